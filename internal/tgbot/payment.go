package tgbot

import (
	"context"
	"fmt"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/pricing"
	"meetup-bot/internal/registration"
	"meetup-bot/internal/util"
)

const hintPayLater = "Вы можете оплатить позже, используя команду /pay."

// maxCaption is the Telegram limit for media captions.
const maxCaption = 1024

func (a *App) payFlow(s *conversation.Session, r request) error {
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
	return a.paymentFlow(s, u)
}

// proof is the user's answer to the payment prompt: a file or "pay later".
type proof struct {
	File  models.FileRef
	Later bool
}

func (a *App) paymentFlow(s *conversation.Session, u *models.User) error {
	ctx := s.Context()
	chatID := s.Key().ChatID

	switch u.PaymentStatus {
	case models.StatusNotRequired:
		return s.Say("Для вашей регистрации оплата не требуется. До встречи!")
	case models.StatusValidated:
		return s.Say(fmt.Sprintf("Ваш взнос уже подтвержден (%d руб.). Спасибо!", u.PaymentAmount))
	case models.StatusSubmitted:
		return s.Say("Ваше подтверждение оплаты уже на проверке. Мы сообщим, когда организаторы его проверят.")
	}

	quote := a.prices.Quote(u.City, u.GraduateType, u.GraduationYear, a.now())
	if !quote.Required() {
		return s.Say("Для вашей регистрации оплата не требуется. До встречи!")
	}
	for _, text := range a.paymentInstructions(u, quote) {
		if err := s.Say(text); err != nil {
			return external(serviceTelegram, err)
		}
	}

	prompt := tgbotapi.NewMessage(chatID, "Пришлите скриншот или PDF с подтверждением оплаты.")
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⏳ Оплачу позже", cbPayLater),
	))
	pr, err := askValid(s, prompt, a.cfg.PaymentTimeout, hintPayLater, parseProof)
	if err != nil {
		return err
	}

	p, err := a.ensurePayment(ctx, u, quote)
	if err != nil {
		return err
	}

	if pr.Later {
		if err := a.store.SetUserPayment(ctx, u.ID, models.StatusPending, 0); err != nil {
			return external(serviceDB, err)
		}
		return s.Say("Хорошо! " + hintPayLater)
	}

	// The proof reaches the admins before the payment is marked submitted, so
	// a failed forward leaves it pending and the user can try again.
	posted, err := a.forwardProof(u, p, pr.File, quote)
	if err != nil {
		return external(serviceTelegram, err)
	}

	// Once admins see the proof the payment must be committed even if the
	// user starts another command meanwhile.
	ctx = context.WithoutCancel(ctx)
	p, err = a.store.SubmitPayment(ctx, p.ID, models.Submission{
		File:        pr.File,
		Minimum:     quote.Minimum,
		Recommended: quote.Recommended,
		At:          a.now(),
	})
	if err != nil {
		return external(serviceDB, err)
	}
	if err := a.store.AttachValidationMessages(ctx, p.ID, posted); err != nil {
		a.logger.Error("attach validation messages", zap.String("payment_id", p.ID), zap.Error(err))
	}
	if err := a.store.SetUserPayment(ctx, u.ID, models.StatusSubmitted, 0); err != nil {
		return external(serviceDB, err)
	}
	a.logger.Info("payment submitted",
		zap.Int64("user_id", u.ID),
		zap.String("payment_id", p.ID),
		zap.String("file_kind", string(pr.File.Kind)),
	)
	return s.Say("Спасибо за подтверждение оплаты! Ваш платеж находится на проверке. Мы сообщим, когда организаторы его подтвердят.")
}

func (a *App) paymentInstructions(u *models.User, q pricing.Amount) []string {
	intro := fmt.Sprintf("💳 Оплата участия во встрече в %s (%s).\nФормула взноса: %s.\nРекомендуемый взнос для вас: %d руб.",
		u.City.Locative(), a.prices.EventDate(u.City), a.prices.FormulaText(u.City), q.Recommended)

	var amount string
	if q.Early {
		amount = fmt.Sprintf("Минимальный взнос при ранней оплате (до %s): %d руб. После %s: %d руб.",
			a.prices.CutoffLabel, q.Discounted, a.prices.CutoffLabel, q.Regular)
	} else {
		amount = fmt.Sprintf("Минимальный взнос: %d руб.", q.Regular)
	}

	details := "Реквизиты для перевода уточните у организаторов."
	if a.cfg.PaymentPhone != "" {
		details = fmt.Sprintf("Перевод по номеру телефона (СБП): %s", a.cfg.PaymentPhone)
		if a.cfg.PaymentName != "" {
			details += fmt.Sprintf("\nПолучатель: %s", a.cfg.PaymentName)
		}
	}
	return []string{intro, amount, details}
}

func parseProof(ans conversation.Answer) (proof, error) {
	if ans.Data == cbPayLater {
		return proof{Later: true}, nil
	}
	if m := ans.Message; m != nil {
		if len(m.Photo) > 0 {
			largest := m.Photo[len(m.Photo)-1]
			return proof{File: models.FileRef{ID: largest.FileID, Kind: models.FilePhoto}}, nil
		}
		if d := m.Document; d != nil {
			mime := strings.ToLower(d.MimeType)
			switch {
			case mime == "application/pdf" || strings.EqualFold(path.Ext(d.FileName), ".pdf"):
				return proof{File: models.FileRef{ID: d.FileID, Kind: models.FilePDF}}, nil
			case strings.HasPrefix(mime, "image/"):
				return proof{File: models.FileRef{ID: d.FileID, Kind: models.FileDocument}}, nil
			}
		}
	}
	return proof{}, &registration.ValidationError{
		Message: "Пожалуйста, отправьте скриншот (фото) или PDF-файл с подтверждением оплаты, либо нажмите «Оплачу позже».",
	}
}

// ensurePayment returns the open payment of u, opening a new pending one when
// there is none or the open one quotes other amounts.
func (a *App) ensurePayment(ctx context.Context, u *models.User, q pricing.Amount) (*models.Payment, error) {
	p, err := a.store.OpenPayment(ctx, u.ID)
	if err != nil {
		return nil, external(serviceDB, err)
	}
	if p != nil {
		if p.Status != models.StatusPending {
			return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, models.ErrInvalidTransition)
		}
		// a pending payment of a canceled registration may quote another city
		if p.City == u.City && p.MinimumAmount == q.Minimum {
			return p, nil
		}
	}
	p = &models.Payment{
		UserID:            u.ID,
		City:              u.City,
		MinimumAmount:     q.Minimum,
		RecommendedAmount: q.Recommended,
		Status:            models.StatusPending,
		CreatedAt:         a.now(),
	}
	if err := a.store.CreatePayment(ctx, p); err != nil {
		return nil, external(serviceDB, err)
	}
	return p, nil
}

// validationChats lists where proofs go: the events chat, or every admin when
// it is not configured.
func (a *App) validationChats() []int64 {
	if a.cfg.EventsChatID != 0 {
		return []int64{a.cfg.EventsChatID}
	}
	out := make([]int64, 0, len(a.cfg.AdminTGIDs))
	for id := range a.cfg.AdminTGIDs {
		out = append(out, id)
	}
	return out
}

func (a *App) proofCaption(u *models.User, p *models.Payment, q pricing.Amount) string {
	var b strings.Builder
	b.WriteString("💳 Новое подтверждение оплаты\n")
	fmt.Fprintf(&b, "Пользователь: %s", u.FullName)
	if u.Username != "" {
		fmt.Fprintf(&b, " (@%s)", u.Username)
	}
	fmt.Fprintf(&b, ", id %d\n", u.ID)
	fmt.Fprintf(&b, "Выпуск: %s\n", u.Graduation())
	fmt.Fprintf(&b, "Город: %s\n", u.City.Title())
	fmt.Fprintf(&b, "Минимальный взнос: %d руб.\n", q.Minimum)
	fmt.Fprintf(&b, "Рекомендуемый взнос: %d руб.\n", q.Recommended)
	fmt.Fprintf(&b, "Платеж: %s\n\n", p.ID)
	b.WriteString("Ответьте на это сообщение /validate [сумма] или /decline [причина], либо нажмите кнопку.")
	return b.String()
}

// forwardProof posts the proof to the validation chats and returns the posted
// copies. It fails only when no copy got through.
func (a *App) forwardProof(u *models.User, p *models.Payment, f models.FileRef, q pricing.Amount) ([]models.MessageRef, error) {
	caption := util.Truncate(a.proofCaption(u, p, q), maxCaption)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", cbValidate+p.ID),
		tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", cbDecline+p.ID),
	))

	chats := a.validationChats()
	if len(chats) == 0 {
		return nil, fmt.Errorf("no validation chat configured")
	}

	var (
		posted  []models.MessageRef
		lastErr error
	)
	for _, chatID := range chats {
		var c tgbotapi.Chattable
		if f.Kind == models.FilePhoto {
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(f.ID))
			photo.Caption = caption
			photo.ReplyMarkup = keyboard
			c = photo
		} else {
			doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(f.ID))
			doc.Caption = caption
			doc.ReplyMarkup = keyboard
			c = doc
		}
		sent, err := a.bot.Send(c)
		if err != nil {
			a.logger.Error("forward payment proof", zap.Int64("chat_id", chatID), zap.String("payment_id", p.ID), zap.Error(err))
			lastErr = err
			continue
		}
		posted = append(posted, models.MessageRef{ChatID: chatID, MessageID: sent.MessageID})
	}
	if len(posted) == 0 {
		return nil, lastErr
	}
	return posted, nil
}
