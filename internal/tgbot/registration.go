package tgbot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/registration"
)

const (
	cmdTeacher = "i_am_a_teacher"
	cmdFriend  = "i_am_a_friend"

	hintRestart = "Чтобы начать заново, нажмите /start."
)

// askValid asks prompt and parses the answer. An invalid answer gets a single
// re-prompt with the validation message; a second one ends the flow.
func askValid[T any](s *conversation.Session, prompt tgbotapi.Chattable, timeout time.Duration, hint string, parse func(conversation.Answer) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		reply, err := s.Ask(prompt, timeout)
		if err != nil {
			return zero, err
		}
		ans, ok := reply.Answer()
		if !ok {
			return zero, timeoutErr(hint)
		}
		v, err := parse(ans)
		if err == nil {
			return v, nil
		}
		if attempt > 0 {
			return zero, inputErr(err, hint)
		}
		prompt = tgbotapi.NewMessage(s.Key().ChatID, inputMessage(err)+"\nПопробуйте ещё раз:")
	}
}

// answerCommand returns the bot command of an answer, if any.
func answerCommand(a conversation.Answer) string {
	if a.Message != nil && a.Message.IsCommand() {
		return a.Message.Command()
	}
	return ""
}

func (a *App) startFlow(s *conversation.Session, r request) error {
	u, err := a.store.GetUser(s.Context(), r.From.ID)
	if err != nil {
		return external(serviceDB, err)
	}
	if u != nil && !u.Canceled() {
		return a.sendStatus(s, u)
	}
	return a.registerFlow(s, r)
}

type graduation struct {
	Type       models.GraduateType
	Year       int
	Letter     string
	needLetter bool
}

func (a *App) registerFlow(s *conversation.Session, r request) error {
	ctx := s.Context()
	chatID := s.Key().ChatID
	timeout := a.cfg.PromptTimeout

	if err := s.Say("Привет! Это бот регистрации на встречу выпускников."); err != nil {
		return external(serviceTelegram, err)
	}

	city, err := askValid(s, a.cityPrompt(chatID), timeout, hintRestart, parseCity)
	if err != nil {
		return err
	}

	namePrompt := tgbotapi.NewMessage(chatID, "Как вас зовут? Укажите фамилию и имя, например: Иванов Иван.")
	name, err := askValid(s, namePrompt, timeout, hintRestart, func(ans conversation.Answer) (string, error) {
		return registration.ValidateFullName(ans.Text)
	})
	if err != nil {
		return err
	}

	gradPrompt := tgbotapi.NewMessage(chatID,
		"Укажите год выпуска и букву класса, например: 2003 Б.\n"+
			"Если вы учитель, нажмите /"+cmdTeacher+", если друг школы: /"+cmdFriend+".")
	grad, err := askValid(s, gradPrompt, timeout, hintRestart, a.parseGraduation)
	if err != nil {
		return err
	}
	if grad.needLetter {
		letter, err := askValid(s, tgbotapi.NewMessage(chatID, "А букву класса?"), timeout, hintRestart,
			func(ans conversation.Answer) (string, error) {
				return registration.ValidateClassLetter(ans.Text)
			})
		if err != nil {
			return err
		}
		grad.Letter = letter
	}

	quote := a.prices.Quote(city, grad.Type, grad.Year, a.now())
	u := &models.User{
		ID:             r.From.ID,
		Username:       r.From.UserName,
		FullName:       name,
		City:           city,
		GraduateType:   grad.Type,
		GraduationYear: grad.Year,
		ClassLetter:    grad.Letter,
		PaymentStatus:  models.StatusNotRequired,
	}
	if quote.Required() {
		u.PaymentStatus = models.StatusPending
	}
	if err := u.Validate(); err != nil {
		return inputErr(err, hintRestart)
	}
	if err := a.store.SaveUser(ctx, u); err != nil {
		return external(serviceDB, err)
	}
	a.logger.Info("user registered",
		zap.Int64("user_id", u.ID),
		zap.String("city", string(u.City)),
		zap.String("graduate_type", string(u.GraduateType)),
	)

	confirm := fmt.Sprintf("Спасибо, %s! Вы зарегистрированы на встречу выпускников в %s (%s).",
		u.FullName, u.City.Locative(), a.prices.EventDate(u.City))
	if !quote.Required() {
		if u.City == models.CityPiter {
			confirm += "\nУчастие во встрече в Санкт-Петербурге за свой счет, оплата через бота не требуется."
		} else {
			confirm += "\nОплата участия для вас не требуется."
		}
		if err := s.Say(confirm); err != nil {
			return external(serviceTelegram, err)
		}
		a.sendPass(u)
		return nil
	}
	if err := s.Say(confirm); err != nil {
		return external(serviceTelegram, err)
	}
	return a.paymentFlow(s, u)
}

func (a *App) cityPrompt(chatID int64) tgbotapi.MessageConfig {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(models.Cities))
	for _, c := range models.Cities {
		label := fmt.Sprintf("%s (%s)", c.Title(), a.prices.EventDate(c))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbCity+string(c)),
		))
	}
	msg := tgbotapi.NewMessage(chatID, "В каком городе вы планируете посетить встречу?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return msg
}

func parseCity(ans conversation.Answer) (models.City, error) {
	raw := ans.Text
	if strings.HasPrefix(ans.Data, cbCity) {
		raw = strings.TrimPrefix(ans.Data, cbCity)
	}
	c, ok := models.ParseCity(raw)
	if !ok {
		return "", &registration.ValidationError{Message: "Пожалуйста, выберите город из списка."}
	}
	return c, nil
}

func (a *App) parseGraduation(ans conversation.Answer) (graduation, error) {
	switch answerCommand(ans) {
	case cmdTeacher:
		return graduation{Type: models.GraduateTypeTeacher}, nil
	case cmdFriend:
		return graduation{Type: models.GraduateTypeNonGraduate}, nil
	}
	year, letter, err := registration.ParseYearAndLetter(ans.Text, a.now())
	if errors.Is(err, registration.ErrMissingLetter) {
		return graduation{Type: models.GraduateTypeGraduate, Year: year, needLetter: true}, nil
	}
	if err != nil {
		return graduation{}, err
	}
	return graduation{Type: models.GraduateTypeGraduate, Year: year, Letter: letter}, nil
}

func (a *App) statusFlow(s *conversation.Session, r request) error {
	u, err := a.store.GetUser(s.Context(), r.From.ID)
	if err != nil {
		return external(serviceDB, err)
	}
	if u == nil {
		return s.Say("Вы ещё не зарегистрированы. Нажмите /start, чтобы зарегистрироваться.")
	}
	if u.Canceled() {
		return s.Say(msgCanceled)
	}
	return a.sendStatus(s, u)
}

// sendStatus shows the registration card, with a pay button while payment is due.
func (a *App) sendStatus(s *conversation.Session, u *models.User) error {
	var b strings.Builder
	b.WriteString("📋 Ваша регистрация\n")
	fmt.Fprintf(&b, "Имя: %s\n", u.FullName)
	fmt.Fprintf(&b, "Город: %s (%s)\n", u.City.Title(), a.prices.EventDate(u.City))
	fmt.Fprintf(&b, "Выпуск: %s\n", u.Graduation())
	fmt.Fprintf(&b, "Оплата: %s %s", u.PaymentStatus.Emoji(), u.PaymentStatus.Title())
	if u.PaymentStatus == models.StatusValidated && u.PaymentAmount > 0 {
		fmt.Fprintf(&b, " (%d руб.)", u.PaymentAmount)
	}

	msg := tgbotapi.NewMessage(s.Key().ChatID, b.String())
	if u.PaymentStatus == models.StatusPending || u.PaymentStatus == models.StatusDeclined {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Оплатить", cbPayNow),
		))
	}
	if _, err := s.Send(msg); err != nil {
		return external(serviceTelegram, err)
	}
	return nil
}
