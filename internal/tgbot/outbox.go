package tgbot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Outbox sends queued messages one by one with a pause between them, so
// broadcasts stay under the Telegram flood limits.
type Outbox struct {
	bot    Client
	queue  chan tgbotapi.Chattable
	delay  time.Duration
	logger *zap.Logger
}

func NewOutbox(bot Client, size int, delay time.Duration, logger *zap.Logger) *Outbox {
	return &Outbox{
		bot:    bot,
		queue:  make(chan tgbotapi.Chattable, size),
		delay:  delay,
		logger: logger,
	}
}

// Enqueue never blocks. It reports false when the queue is full.
func (o *Outbox) Enqueue(c tgbotapi.Chattable) bool {
	select {
	case o.queue <- c:
		return true
	default:
		o.logger.Warn("outbox full, message dropped")
		return false
	}
}

// Run sends until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-o.queue:
			if _, err := o.bot.Send(c); err != nil {
				o.logger.Warn("outbox send", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.delay):
			}
		}
	}
}
