package tgbot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/registration"
)

const msgCanceled = "Ваша регистрация отменена. Нажмите /start, чтобы зарегистрироваться снова."

// choice is one inline button of askChoice.
type choice struct {
	Key   string
	Label string
}

// askChoice asks text with one button per choice and returns the chosen key.
// Typing the label or the key works too.
func askChoice(s *conversation.Session, text, prefix string, choices []choice, timeout time.Duration, hint string) (string, error) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Label, prefix+c.Key)))
	}
	prompt := tgbotapi.NewMessage(s.Key().ChatID, text)
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	return askValid(s, prompt, timeout, hint, func(ans conversation.Answer) (string, error) {
		if strings.HasPrefix(ans.Data, prefix) {
			key := strings.TrimPrefix(ans.Data, prefix)
			for _, c := range choices {
				if c.Key == key {
					return key, nil
				}
			}
		}
		for _, c := range choices {
			if ans.Text != "" && (strings.EqualFold(ans.Text, c.Label) || strings.EqualFold(ans.Text, c.Key)) {
				return c.Key, nil
			}
		}
		return "", &registration.ValidationError{Message: "Пожалуйста, выберите один из вариантов."}
	})
}

// cancelRegistrationFlow withdraws the user's registration. The record stays
// in the store marked as canceled; /start registers again.
func (a *App) cancelRegistrationFlow(s *conversation.Session, r request) error {
	ctx := s.Context()
	u, err := a.store.GetUser(ctx, r.From.ID)
	if err != nil {
		return external(serviceDB, err)
	}
	if u == nil || u.Canceled() {
		return s.Say("У вас нет активной регистрации. Нажмите /start, чтобы зарегистрироваться на встречу.")
	}
	if u.PaymentStatus == models.StatusSubmitted {
		return s.Say("Ваш платеж сейчас на проверке. Отменить регистрацию можно после решения организаторов.")
	}

	question := fmt.Sprintf("Вы уверены, что хотите отменить регистрацию на встречу в %s (%s)?",
		u.City.Locative(), a.prices.EventDate(u.City))
	answer, err := askChoice(s, question, cbUnreg, []choice{
		{Key: "yes", Label: "Да, отменить"},
		{Key: "no", Label: "Нет, сохранить"},
	}, a.cfg.PromptTimeout, "Регистрация сохранена.")
	if err != nil {
		return err
	}
	if answer != "yes" {
		return s.Say("Регистрация сохранена.")
	}

	if err := a.store.CancelUser(ctx, u.ID, a.now()); err != nil {
		return external(serviceDB, err)
	}
	a.logger.Info("registration canceled",
		zap.Int64("user_id", u.ID),
		zap.String("city", string(u.City)),
		zap.String("payment_status", string(u.PaymentStatus)),
	)

	text := fmt.Sprintf("Регистрация на встречу в %s отменена. Чтобы зарегистрироваться снова, нажмите /start.", u.City.Locative())
	if u.PaymentStatus == models.StatusValidated {
		text += "\nПо вопросу возврата взноса напишите организаторам."
	}
	return s.Say(text)
}
