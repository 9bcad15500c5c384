package tgbot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"meetup-bot/internal/models"
	"meetup-bot/internal/util"
)

// passPayload is what the entry QR code encodes. The signature lets the door
// check a pass without a database lookup.
func (a *App) passPayload(u *models.User) string {
	sig := util.HMACSHA256Hex(a.cfg.SigningSecret, fmt.Sprintf("pass:%d:%s", u.ID, u.City))
	return fmt.Sprintf("meetup:%d:%s:%s", u.ID, u.City, sig[:16])
}

// sendPass sends the entry QR code once a registration is settled. Without a
// signing secret no pass is issued.
func (a *App) sendPass(u *models.User) {
	if !u.PaymentStatus.Settled() {
		return
	}
	if !a.cfg.SigningEnabled() {
		a.logger.Debug("entry pass skipped: no signing secret", zap.Int64("user_id", u.ID))
		return
	}
	png, err := qrcode.Encode(a.passPayload(u), qrcode.Medium, 256)
	if err != nil {
		a.logger.Error("encode pass", zap.Int64("user_id", u.ID), zap.Error(err))
		return
	}
	photo := tgbotapi.NewPhoto(u.ID, tgbotapi.FileBytes{Name: "pass.png", Bytes: png})
	photo.Caption = fmt.Sprintf("🎟 Ваш пропуск на встречу в %s (%s). Покажите QR-код на входе.",
		u.City.Locative(), a.prices.EventDate(u.City))
	if _, err := a.bot.Send(photo); err != nil {
		a.logger.Error("send pass", zap.Int64("user_id", u.ID), zap.Error(err))
	}
}
