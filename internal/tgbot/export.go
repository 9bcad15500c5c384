package tgbot

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/registration"
	"meetup-bot/internal/server"
)

const (
	exportSheets = "sheets"
	exportCSV    = "csv"
	exportLink   = "link"
)

// BuildUsersCSV renders every registered user with the shared export header.
func (a *App) BuildUsersCSV(ctx context.Context) ([]byte, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return usersCSV(users)
}

func usersCSV(users []models.User) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(models.UserHeader); err != nil {
		return nil, err
	}
	for i := range users {
		if err := w.Write(users[i].Record()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *App) exportFlow(s *conversation.Session, r request) error {
	choice := strings.ToLower(r.Args)
	if choice == "" {
		prompt := tgbotapi.NewMessage(s.Key().ChatID, "Куда выгрузить участников?")
		prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📊 Google Sheets", cbExport+exportSheets),
				tgbotapi.NewInlineKeyboardButtonData("📄 CSV файл", cbExport+exportCSV),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔗 Ссылка на CSV", cbExport+exportLink),
			),
		)
		c, err := askValid(s, prompt, a.cfg.AdminTimeout, "Выгрузка отменена.", parseExportChoice)
		if err != nil {
			return err
		}
		choice = c
	}

	switch choice {
	case exportSheets:
		return a.exportToSheets(s)
	case exportCSV:
		return a.exportCSVFile(s)
	case exportLink:
		link := server.ExportLink(a.cfg)
		if link == "" {
			return s.Say("Ссылка недоступна: не заданы BASE_PUBLIC_URL и SIGNING_SECRET.")
		}
		return s.Say("📤 CSV выгрузка (ссылка): " + link)
	}
	return &InputError{Message: "Неизвестный вариант выгрузки.", Hint: "Используйте /export sheets, /export csv или /export link."}
}

func parseExportChoice(ans conversation.Answer) (string, error) {
	v := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(ans.Data, cbExport)))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(ans.Text))
	}
	switch v {
	case exportSheets, exportCSV, exportLink:
		return v, nil
	}
	return "", &registration.ValidationError{Message: "Выберите вариант выгрузки кнопкой."}
}

func (a *App) exportToSheets(s *conversation.Session) error {
	if a.sheets == nil {
		return s.Say("Выгрузка в Google Sheets не настроена.")
	}
	ctx := s.Context()
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return external(serviceDB, err)
	}
	url, err := a.sheets.ExportUsers(ctx, users)
	if err != nil {
		return external(serviceSheets, err)
	}
	return s.Say(fmt.Sprintf("✅ Выгружено записей: %d\n%s", len(users), url))
}

func (a *App) exportCSVFile(s *conversation.Session) error {
	ctx := s.Context()
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return external(serviceDB, err)
	}
	b, err := usersCSV(users)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("users_%s.csv", a.now().Format("2006-01-02"))
	doc := tgbotapi.NewDocument(s.Key().ChatID, tgbotapi.FileBytes{Name: name, Bytes: b})
	doc.Caption = fmt.Sprintf("Участники: %d", len(users))
	if _, err := s.Send(doc); err != nil {
		return external(serviceTelegram, err)
	}
	return nil
}
