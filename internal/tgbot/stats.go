package tgbot

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
)

var statsOrder = []models.PaymentStatus{
	models.StatusValidated,
	models.StatusSubmitted,
	models.StatusPending,
	models.StatusDeclined,
	models.StatusNotRequired,
}

func (a *App) statsFlow(s *conversation.Session, r request) error {
	st, err := a.store.Stats(s.Context())
	if err != nil {
		return external(serviceDB, err)
	}
	msg := tgbotapi.NewMessage(s.Key().ChatID, a.formatStats(st))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.Send(msg); err != nil {
		return external(serviceTelegram, err)
	}
	return nil
}

func (a *App) formatStats(st models.Stats) string {
	var b strings.Builder
	b.WriteString("<b>📊 Статистика регистраций</b>\n")
	for _, cs := range st.Cities {
		fmt.Fprintf(&b, "\n<b>%s</b> (%s): %d\n",
			html.EscapeString(cs.City.Title()), html.EscapeString(a.prices.EventDate(cs.City)), cs.Registered)
		for _, status := range statsOrder {
			if n := cs.ByStatus[status]; n > 0 {
				fmt.Fprintf(&b, "  %s %s: %d\n", status.Emoji(), status.Title(), n)
			}
		}
		if cs.Collected > 0 {
			fmt.Fprintf(&b, "  Собрано: %d руб.\n", cs.Collected)
		}
	}
	fmt.Fprintf(&b, "\n<b>Всего</b>: %d, собрано %d руб.", st.Registered, st.Collected)
	return b.String()
}
