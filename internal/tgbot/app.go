package tgbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meetup-bot/internal/config"
	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/pricing"
)

// Client is the part of *tgbotapi.BotAPI the bot uses.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	CancelUser(ctx context.Context, userID int64, at time.Time) error
	SetUserPayment(ctx context.Context, userID int64, status models.PaymentStatus, amount int) error
	ListUsers(ctx context.Context, statuses ...models.PaymentStatus) ([]models.User, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	OpenPayment(ctx context.Context, userID int64) (*models.Payment, error)
	SubmitPayment(ctx context.Context, id string, sub models.Submission) (*models.Payment, error)
	DecidePayment(ctx context.Context, id string, d models.Decision) (*models.Payment, error)
	AttachValidationMessages(ctx context.Context, id string, refs []models.MessageRef) error
	FindPaymentByValidationMessage(ctx context.Context, chatID int64, messageID int) (*models.Payment, error)

	Stats(ctx context.Context) (models.Stats, error)
	SaveFeedback(ctx context.Context, f *models.Feedback) error
}

// Exporter writes the participant list to a spreadsheet.
type Exporter interface {
	ExportUsers(ctx context.Context, users []models.User) (string, error)
}

// callback data prefixes
const (
	cbCity     = "city:"
	cbPayNow   = "pay_now"
	cbPayLater = "pay_later"
	cbValidate = "pv:"
	cbDecline  = "pd:"
	cbExport   = "exp:"
	cbNotify   = "nt:"
	cbUnreg    = "cr:"
	cbFeedback = "fb:"
)

// anti-flood delay between queued sends
const sendInterval = 35 * time.Millisecond

type App struct {
	cfg      config.Config
	bot      Client
	store    Store
	sheets   Exporter
	prices   *pricing.Table
	sessions *conversation.Manager
	outbox   *Outbox
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

type Option func(*App)

// WithSheets enables the Google Sheets export.
func WithSheets(e Exporter) Option {
	return func(a *App) { a.sheets = e }
}

func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

func New(cfg config.Config, bot Client, store Store, prices *pricing.Table, logger *zap.Logger, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		bot:      bot,
		store:    store,
		prices:   prices,
		sessions: conversation.NewManager(bot),
		outbox:   NewOutbox(bot, 256, sendInterval, logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run reads updates until ctx is cancelled. Running flows are aborted and
// waited for before it returns.
func (a *App) Run(ctx context.Context) error {
	a.registerCommands()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.outbox.Run(ctx)
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := a.bot.GetUpdatesChan(u)
	defer a.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			a.wg.Wait()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				a.wg.Wait()
				return nil
			}
			a.HandleUpdate(ctx, upd)
		}
	}
}

// HandleUpdate routes one update. It never blocks on user input: flows run in
// their own goroutines.
func (a *App) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("update handler panic", zap.Any("recovered", r), zap.Int("update_id", upd.UpdateID))
		}
	}()

	switch {
	case upd.Message != nil:
		a.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		a.handleCallback(ctx, upd.CallbackQuery)
	}
}

// request is what started a flow.
type request struct {
	From     *tgbotapi.User
	ChatID   int64
	Message  *tgbotapi.Message
	Callback *tgbotapi.CallbackQuery
	Args     string
}

type flow func(s *conversation.Session, r request) error

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	key := conversation.Key{ChatID: m.Chat.ID, UserID: m.From.ID}
	r := request{From: m.From, ChatID: m.Chat.ID, Message: m}

	if m.IsCommand() {
		cmd := m.Command()
		if cmd == "cancel" {
			a.cancel(key)
			return
		}
		if f, ok := a.commandFlow(cmd); ok {
			r.Args = strings.TrimSpace(m.CommandArguments())
			a.spawn(ctx, key, r, f)
			return
		}
	}

	if a.sessions.Deliver(key, conversation.Answer{Text: strings.TrimSpace(m.Text), Message: m}) {
		return
	}
	if a.sessions.Active(key) || !m.Chat.IsPrivate() {
		return
	}
	a.sendText(m.Chat.ID, "Нажмите /start, чтобы зарегистрироваться, или /status, чтобы посмотреть статус регистрации.")
}

func (a *App) commandFlow(cmd string) (flow, bool) {
	switch cmd {
	case "start":
		return a.startFlow, true
	case "pay":
		return a.payFlow, true
	case "status":
		return a.statusFlow, true
	case "cancel_registration":
		return a.cancelRegistrationFlow, true
	case "feedback":
		return a.feedbackFlow, true
	case "validate":
		return a.adminOnly(a.validateCommand), true
	case "decline":
		return a.adminOnly(a.declineCommand), true
	case "export":
		return a.adminOnly(a.exportFlow), true
	case "stats":
		return a.adminOnly(a.statsFlow), true
	case "notify_early_payment":
		return a.adminOnly(a.notifyEarlyFlow), true
	}
	return nil, false
}

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		_, _ = a.bot.Request(tgbotapi.NewCallback(q.ID, ""))
		return
	}
	key := conversation.Key{ChatID: q.Message.Chat.ID, UserID: q.From.ID}
	r := request{From: q.From, ChatID: q.Message.Chat.ID, Callback: q}

	var f flow
	switch data := q.Data; {
	case data == cbPayNow:
		f = a.payFlow
	case strings.HasPrefix(data, cbValidate):
		r.Args = strings.TrimPrefix(data, cbValidate)
		f = a.adminOnly(a.validateButton)
	case strings.HasPrefix(data, cbDecline):
		r.Args = strings.TrimPrefix(data, cbDecline)
		f = a.adminOnly(a.declineButton)
	}

	if f != nil {
		_, _ = a.bot.Request(tgbotapi.NewCallback(q.ID, ""))
		a.spawn(ctx, key, r, f)
		return
	}
	if a.sessions.Deliver(key, conversation.Answer{Data: q.Data, Callback: q}) {
		_, _ = a.bot.Request(tgbotapi.NewCallback(q.ID, ""))
		return
	}
	_, _ = a.bot.Request(tgbotapi.NewCallback(q.ID, "Эта кнопка больше не активна."))
}

// spawn runs f in its own session. A session already open for key is aborted.
func (a *App) spawn(ctx context.Context, key conversation.Key, r request, f flow) {
	s := a.sessions.Start(ctx, key)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.sessions.End(s)
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("flow panic", zap.Any("recovered", rec), zap.Int64("user_id", key.UserID))
				_ = s.Say(msgInternal)
			}
		}()
		a.finish(s, f(s, r))
	}()
}

// finish is the flow boundary: every error becomes a message for the user.
func (a *App) finish(s *conversation.Session, err error) {
	if silent(err) {
		return
	}
	key := s.Key()
	fields := []zap.Field{zap.Int64("chat_id", key.ChatID), zap.Int64("user_id", key.UserID), zap.Error(err)}

	var (
		ee *ExternalError
		ie *InputError
	)
	switch {
	case errors.As(err, &ie), errors.Is(err, ErrTimeout), errors.Is(err, ErrPermissionDenied):
		a.logger.Info("flow ended", fields...)
	case errors.As(err, &ee):
		a.logger.Error("external service failed", append(fields, zap.String("service", ee.Service))...)
	default:
		a.logger.Warn("flow failed", fields...)
	}

	// the session context may already be done, so send directly
	a.sendText(key.ChatID, userMessage(err))
}

func (a *App) cancel(key conversation.Key) {
	if a.sessions.Abort(key) {
		a.sendText(key.ChatID, "Действие отменено.")
		return
	}
	a.sendText(key.ChatID, "Нечего отменять.")
}

func (a *App) adminOnly(f flow) flow {
	return func(s *conversation.Session, r request) error {
		if !a.cfg.IsAdmin(r.From.ID) {
			a.logger.Warn("admin command denied", zap.Int64("user_id", r.From.ID))
			return ErrPermissionDenied
		}
		return f(s, r)
	}
}

func (a *App) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := a.bot.Send(msg)
	return err
}

// sendText is SendText with the error logged.
func (a *App) sendText(chatID int64, text string) {
	if err := a.SendText(chatID, text); err != nil {
		a.logger.Error("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// registerCommands publishes the command menu: user commands for everyone,
// admin commands in the private chats of admins.
func (a *App) registerCommands() {
	user := []tgbotapi.BotCommand{
		{Command: "start", Description: "Регистрация на встречу"},
		{Command: "pay", Description: "Оплатить участие"},
		{Command: "status", Description: "Статус регистрации и оплаты"},
		{Command: "cancel_registration", Description: "Отменить регистрацию"},
		{Command: "feedback", Description: "Отзыв о встрече"},
		{Command: "cancel", Description: "Отменить текущее действие"},
	}
	admin := append(append([]tgbotapi.BotCommand{}, user...),
		tgbotapi.BotCommand{Command: "stats", Description: "Статистика регистраций"},
		tgbotapi.BotCommand{Command: "export", Description: "Выгрузить участников"},
		tgbotapi.BotCommand{Command: "notify_early_payment", Description: "Напомнить о ранней оплате"},
		tgbotapi.BotCommand{Command: "validate", Description: "Подтвердить платеж (ответом)"},
		tgbotapi.BotCommand{Command: "decline", Description: "Отклонить платеж (ответом)"},
	)

	if _, err := a.bot.Request(tgbotapi.NewSetMyCommands(user...)); err != nil {
		a.logger.Warn("set commands", zap.Error(err))
	}
	for id := range a.cfg.AdminTGIDs {
		cfg := tgbotapi.NewSetMyCommandsWithScope(tgbotapi.NewBotCommandScopeChat(id), admin...)
		if _, err := a.bot.Request(cfg); err != nil {
			a.logger.Warn("set admin commands", zap.Int64("admin_id", id), zap.Error(err))
		}
	}
}
