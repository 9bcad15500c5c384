package tgbot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func TestOutboxDropsWhenFull(t *testing.T) {
	o := NewOutbox(newFakeBot(), 1, time.Millisecond, zap.NewNop())
	if !o.Enqueue(tgbotapi.NewMessage(1, "a")) {
		t.Fatal("first message rejected")
	}
	if o.Enqueue(tgbotapi.NewMessage(1, "b")) {
		t.Fatal("full queue accepted a message")
	}
}

func TestOutboxSendsInOrder(t *testing.T) {
	bot := newFakeBot()
	o := NewOutbox(bot, 8, time.Millisecond, zap.NewNop())
	for _, text := range []string{"one", "two", "three"} {
		o.Enqueue(tgbotapi.NewMessage(1, text))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		bot.mu.Lock()
		n := len(bot.log)
		bot.mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sent %d messages", n)
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	for i, want := range []string{"one", "two", "three"} {
		if got := bot.log[i].Text; got != want {
			t.Fatalf("message %d = %q, want %q", i, got, want)
		}
	}
}
