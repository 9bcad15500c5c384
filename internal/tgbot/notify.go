package tgbot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/util"
)

// reportLimit caps the names listed in the dry run report.
const reportLimit = 30

type reminder struct {
	User    models.User
	Minimum int
	Regular int
}

// notifyEarlyFlow reports unpaid registrations and, once confirmed, queues an
// early payment reminder for each of them. "/notify_early_payment dry" only
// reports.
func (a *App) notifyEarlyFlow(s *conversation.Session, r request) error {
	ctx := s.Context()
	now := a.now()
	if !a.prices.Early(now) {
		return s.Say(fmt.Sprintf("Период ранней оплаты закончился (%s).", a.prices.CutoffLabel))
	}

	users, err := a.store.ListUsers(ctx, models.StatusPending, models.StatusDeclined)
	if err != nil {
		return external(serviceDB, err)
	}
	var due []reminder
	for _, u := range users {
		q := a.prices.Quote(u.City, u.GraduateType, u.GraduationYear, now)
		if !q.Required() {
			continue
		}
		due = append(due, reminder{User: u, Minimum: q.Minimum, Regular: q.Regular})
	}

	if err := s.Say(earlyReport(due)); err != nil {
		return external(serviceTelegram, err)
	}
	if len(due) == 0 || strings.EqualFold(r.Args, "dry") {
		return nil
	}

	prompt := tgbotapi.NewMessage(s.Key().ChatID, fmt.Sprintf("Отправить напоминание %d пользователям?", len(due)))
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Да", cbNotify+"yes"),
		tgbotapi.NewInlineKeyboardButtonData("Нет", cbNotify+"no"),
	))
	reply, err := s.Ask(prompt, a.cfg.AdminTimeout)
	if err != nil {
		return err
	}
	ans, ok := reply.Answer()
	if !ok {
		return timeoutErr("Напоминания не отправлены.")
	}
	if ans.Data != cbNotify+"yes" && !util.NormalizeBoolRU(ans.Text) {
		return s.Say("Напоминания не отправлены.")
	}

	queued := 0
	for _, d := range due {
		if a.outbox.Enqueue(tgbotapi.NewMessage(d.User.ID, a.reminderText(d))) {
			queued++
		}
	}
	a.logger.Info("early payment reminders queued", zap.Int("queued", queued), zap.Int("due", len(due)))
	return s.Say(fmt.Sprintf("Поставлено в очередь напоминаний: %d из %d.", queued, len(due)))
}

func earlyReport(due []reminder) string {
	if len(due) == 0 {
		return "Неоплаченных регистраций нет."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Неоплаченных регистраций: %d\n", len(due))
	for i, d := range due {
		if i == reportLimit {
			fmt.Fprintf(&b, "… и еще %d", len(due)-reportLimit)
			break
		}
		fmt.Fprintf(&b, "• %s, %s, %s: %d руб.\n", d.User.FullName, d.User.Graduation(), d.User.City.Title(), d.Minimum)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) reminderText(d reminder) string {
	return fmt.Sprintf(
		"Напоминаем: до %s действует ранняя оплата участия во встрече в %s. "+
			"Сейчас ваш минимальный взнос %d руб., после %s он составит %d руб.\nОплатить: /pay",
		a.prices.CutoffLabel, d.User.City.Locative(), d.Minimum, a.prices.CutoffLabel, d.Regular)
}
