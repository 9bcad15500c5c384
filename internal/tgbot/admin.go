package tgbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/pricing"
	"meetup-bot/internal/registration"
	"meetup-bot/internal/util"
)

const hintReplyCommand = "Отправьте команду ответом на сообщение с подтверждением оплаты."

// skipAnswer keeps the default amount or leaves the reason empty.
const skipAnswer = "-"

// parseAmount reads "1500", "1 500" or "1500 руб".
func parseAmount(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSuffix(s, "руб")
	s = strings.TrimSuffix(s, "р")
	s = strings.ReplaceAll(s, " ", "")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, &registration.ValidationError{Message: "Сумма должна быть положительным целым числом, например 1500."}
	}
	return n, nil
}

// repliedPayment finds the payment whose proof the command replies to.
func (a *App) repliedPayment(ctx context.Context, r request) (*models.Payment, error) {
	if r.Message == nil || r.Message.ReplyToMessage == nil {
		return nil, &InputError{Message: "Не найдено сообщение с платежом.", Hint: hintReplyCommand}
	}
	p, err := a.store.FindPaymentByValidationMessage(ctx, r.ChatID, r.Message.ReplyToMessage.MessageID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// validateCommand handles "/validate [amount]" sent as a reply to a proof.
func (a *App) validateCommand(s *conversation.Session, r request) error {
	ctx := s.Context()
	var amount int
	if r.Args != "" {
		n, err := parseAmount(r.Args)
		if err != nil {
			return inputErr(err, "")
		}
		amount = n
	}
	p, err := a.repliedPayment(ctx, r)
	if err != nil {
		return err
	}
	if amount == 0 {
		amount = p.MinimumAmount
	}
	return a.validatePayment(s, r.From, p, amount)
}

// declineCommand handles "/decline [reason]" sent as a reply to a proof.
func (a *App) declineCommand(s *conversation.Session, r request) error {
	p, err := a.repliedPayment(s.Context(), r)
	if err != nil {
		return err
	}
	return a.declinePayment(s, r.From, p, r.Args)
}

// buttonPayment loads the payment behind a ✅/❌ button. Payments that cannot
// be decided are rejected before the admin is asked anything.
func (a *App) buttonPayment(ctx context.Context, id string) (*models.Payment, error) {
	p, err := a.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Status.CheckTransition(models.StatusValidated); err != nil {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, err)
	}
	return p, nil
}

func (a *App) adminPrompt(s *conversation.Session, r request, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(s.Key().ChatID, text)
	if r.Callback != nil && r.Callback.Message != nil {
		msg.ReplyToMessageID = r.Callback.Message.MessageID
	}
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	return msg
}

func (a *App) validateButton(s *conversation.Session, r request) error {
	p, err := a.buttonPayment(s.Context(), r.Args)
	if err != nil {
		return err
	}
	prompt := a.adminPrompt(s, r, fmt.Sprintf(
		"Введите сумму платежа в рублях или «%s», чтобы записать минимальный взнос (%d руб.).", skipAnswer, p.MinimumAmount))
	amount, err := askValid(s, prompt, a.cfg.AdminTimeout, "Платеж не изменен.", func(ans conversation.Answer) (int, error) {
		if strings.TrimSpace(ans.Text) == skipAnswer {
			return p.MinimumAmount, nil
		}
		return parseAmount(ans.Text)
	})
	if err != nil {
		return err
	}
	return a.validatePayment(s, r.From, p, amount)
}

func (a *App) declineButton(s *conversation.Session, r request) error {
	p, err := a.buttonPayment(s.Context(), r.Args)
	if err != nil {
		return err
	}
	prompt := a.adminPrompt(s, r, fmt.Sprintf("Укажите причину отклонения или «%s» без причины.", skipAnswer))
	reason, err := askValid(s, prompt, a.cfg.AdminTimeout, "Платеж не изменен.", func(ans conversation.Answer) (string, error) {
		text := strings.TrimSpace(ans.Text)
		if text == "" {
			return "", &registration.ValidationError{Message: "Напишите причину текстом."}
		}
		if text == skipAnswer {
			return "", nil
		}
		return text, nil
	})
	if err != nil {
		return err
	}
	return a.declinePayment(s, r.From, p, reason)
}

// validatePayment and declinePayment do not ask anything, so they finish even
// when the admin starts another command meanwhile.
func (a *App) validatePayment(s *conversation.Session, admin *tgbotapi.User, p *models.Payment, amount int) error {
	ctx := context.WithoutCancel(s.Context())
	p, err := a.store.DecidePayment(ctx, p.ID, models.Decision{
		Status:  models.StatusValidated,
		AdminID: admin.ID,
		Amount:  amount,
		At:      a.now(),
	})
	if err != nil {
		return err
	}
	if err := a.store.SetUserPayment(ctx, p.UserID, models.StatusValidated, amount); err != nil {
		return external(serviceDB, err)
	}
	a.logger.Info("payment validated",
		zap.String("payment_id", p.ID),
		zap.Int64("user_id", p.UserID),
		zap.Int64("admin_id", admin.ID),
		zap.Int("amount", amount),
	)

	a.sendText(p.UserID, fmt.Sprintf("✅ Ваш платеж подтвержден! Сумма: %d руб. Спасибо, до встречи!", amount))
	if amount < p.MinimumAmount {
		nudge := tgbotapi.NewMessage(p.UserID, fmt.Sprintf(
			"Обратите внимание: минимальный взнос для вас %d руб., а получено %d руб. "+
				"Пожалуйста, доплатите %d руб. по тем же реквизитам и сообщите организаторам.",
			p.MinimumAmount, amount, p.MinimumAmount-amount))
		a.outbox.Enqueue(nudge)
	}

	u, err := a.store.GetUser(ctx, p.UserID)
	if err != nil {
		a.logger.Error("load user after validation", zap.Int64("user_id", p.UserID), zap.Error(err))
	}
	if u != nil {
		a.sendPass(u)
	}
	a.amendProof(u, p, fmt.Sprintf("✅ Подтверждено: %d руб. (%s)", amount, adminName(admin)))
	a.autoExport()

	name := strconv.FormatInt(p.UserID, 10)
	if u != nil {
		name = u.FullName
	}
	return s.Say(fmt.Sprintf("✅ Платеж подтвержден: %s, %d руб.", name, amount))
}

func (a *App) declinePayment(s *conversation.Session, admin *tgbotapi.User, p *models.Payment, reason string) error {
	ctx := context.WithoutCancel(s.Context())
	p, err := a.store.DecidePayment(ctx, p.ID, models.Decision{
		Status:  models.StatusDeclined,
		AdminID: admin.ID,
		Comment: reason,
		At:      a.now(),
	})
	if err != nil {
		return err
	}
	if err := a.store.SetUserPayment(ctx, p.UserID, models.StatusDeclined, 0); err != nil {
		return external(serviceDB, err)
	}
	a.logger.Info("payment declined",
		zap.String("payment_id", p.ID),
		zap.Int64("user_id", p.UserID),
		zap.Int64("admin_id", admin.ID),
	)

	text := "❌ Ваш платеж отклонен."
	if reason != "" {
		text += "\nПричина: " + reason
	}
	text += "\nПожалуйста, проверьте данные и отправьте подтверждение снова с помощью команды /pay."
	a.sendText(p.UserID, text)

	u, err := a.store.GetUser(ctx, p.UserID)
	if err != nil {
		a.logger.Error("load user after decline", zap.Int64("user_id", p.UserID), zap.Error(err))
	}
	decision := fmt.Sprintf("❌ Отклонено (%s)", adminName(admin))
	if reason != "" {
		decision += ": " + reason
	}
	a.amendProof(u, p, decision)
	return s.Say(fmt.Sprintf("❌ Платеж %s отклонен.", p.ID))
}

// amendProof appends the decision to every posted copy of the proof and drops
// the buttons.
func (a *App) amendProof(u *models.User, p *models.Payment, decision string) {
	caption := decision
	if u != nil {
		q := pricing.Amount{Minimum: p.MinimumAmount, Recommended: p.RecommendedAmount}
		caption = a.proofCaption(u, p, q) + "\n\n" + decision
	}
	caption = util.Truncate(caption, maxCaption)
	for _, ref := range p.ValidationMessages {
		edit := tgbotapi.NewEditMessageCaption(ref.ChatID, ref.MessageID, caption)
		if _, err := a.bot.Request(edit); err != nil {
			a.logger.Warn("amend proof caption", zap.String("payment_id", p.ID), zap.Int64("chat_id", ref.ChatID), zap.Error(err))
		}
	}
}

func adminName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// autoExport refreshes the spreadsheet in the background. Failures are only logged.
func (a *App) autoExport() {
	if a.sheets == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		users, err := a.store.ListUsers(ctx)
		if err != nil {
			a.logger.Warn("auto export: list users", zap.Error(err))
			return
		}
		if _, err := a.sheets.ExportUsers(ctx, users); err != nil {
			a.logger.Warn("auto export", zap.Error(err))
			return
		}
		a.logger.Debug("auto export done", zap.Int("users", len(users)))
	}()
}
