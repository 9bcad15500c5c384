package tgbot

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"meetup-bot/internal/config"
	"meetup-bot/internal/models"
	"meetup-bot/internal/pricing"
)

const (
	adminID    int64 = 1000
	eventsChat int64 = -100500
)

var (
	earlyDay = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lateDay  = time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
)

// sent is one outgoing call recorded by fakeBot.
type sent struct {
	ID     int
	ChatID int64
	Kind   string
	Text   string
	Markup interface{}
}

func (s sent) buttonData() []string {
	kb, ok := s.Markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				out = append(out, *b.CallbackData)
			}
		}
	}
	return out
}

type fakeBot struct {
	mu       sync.Mutex
	nextID   int
	log      []sent
	used     []bool
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
}

func newFakeBot() *fakeBot {
	return &fakeBot{nextID: 100, updates: make(chan tgbotapi.Update, 64)}
}

func (f *fakeBot) record(s sent) sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	f.log = append(f.log, s)
	f.used = append(f.used, false)
	return s
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var s sent
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		s = sent{ChatID: m.ChatID, Kind: "text", Text: m.Text, Markup: m.ReplyMarkup}
	case tgbotapi.PhotoConfig:
		s = sent{ChatID: m.ChatID, Kind: "photo", Text: m.Caption, Markup: m.ReplyMarkup}
	case tgbotapi.DocumentConfig:
		s = sent{ChatID: m.ChatID, Kind: "document", Text: m.Caption, Markup: m.ReplyMarkup}
	default:
		s = sent{Kind: "other"}
	}
	s = f.record(s)
	return tgbotapi.Message{MessageID: s.ID, Chat: &tgbotapi.Chat{ID: s.ChatID}}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if e, ok := c.(tgbotapi.EditMessageCaptionConfig); ok {
		f.record(sent{ChatID: e.ChatID, Kind: "edit", Text: e.Caption})
	}
	f.mu.Lock()
	f.requests = append(f.requests, c)
	f.mu.Unlock()
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {}

// take consumes the first unread message matching pred.
func (f *fakeBot) take(pred func(sent) bool) (sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.log {
		if !f.used[i] && pred(s) {
			f.used[i] = true
			return s, true
		}
	}
	return sent{}, false
}

// memStore is an in-memory Store with the same transition rules as MongoDB.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]models.User
	payments map[string]models.Payment
	order    []string
	feedback []models.Feedback
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]models.User{}, payments: map[string]models.Payment{}}
}

func (m *memStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memStore) SaveUser(_ context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.users[u.ID]; ok {
		u.CreatedAt = old.CreatedAt
	} else {
		u.CreatedAt = time.Now()
	}
	u.CanceledAt = nil
	m.users[u.ID] = *u
	return nil
}

func (m *memStore) CancelUser(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Canceled() {
		return models.ErrUserNotFound
	}
	u.CanceledAt = &at
	m.users[id] = u
	return nil
}

func (m *memStore) SaveFeedback(_ context.Context, f *models.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	m.feedback = append(m.feedback, *f)
	return nil
}

func (m *memStore) feedbackOf(userID int64) []models.Feedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Feedback
	for _, f := range m.feedback {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out
}

func (m *memStore) SetUserPayment(_ context.Context, id int64, status models.PaymentStatus, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	u.PaymentStatus, u.PaymentAmount = status, amount
	m.users[id] = u
	return nil
}

func (m *memStore) ListUsers(_ context.Context, statuses ...models.PaymentStatus) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.Canceled() {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, u.PaymentStatus) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsStatus(list []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	if p.Status != "" && p.Status != models.StatusPending {
		return models.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = models.StatusPending
	m.payments[p.ID] = *p
	m.order = append(m.order, p.ID)
	return nil
}

func (m *memStore) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *memStore) OpenPayment(_ context.Context, userID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		p := m.payments[m.order[i]]
		if p.UserID == userID && p.Status.Open() {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memStore) transition(id string, from, to models.PaymentStatus, apply func(p *models.Payment)) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	if p.Status != from {
		if err := p.Status.CheckTransition(to); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidTransition
	}
	apply(&p)
	p.Status = to
	m.payments[id] = p
	return &p, nil
}

func (m *memStore) SubmitPayment(_ context.Context, id string, sub models.Submission) (*models.Payment, error) {
	return m.transition(id, models.StatusPending, models.StatusSubmitted, func(p *models.Payment) {
		f := sub.File
		p.File = &f
		p.MinimumAmount = sub.Minimum
		p.RecommendedAmount = sub.Recommended
		at := sub.At
		p.SubmittedAt = &at
	})
}

func (m *memStore) DecidePayment(_ context.Context, id string, d models.Decision) (*models.Payment, error) {
	return m.transition(id, models.StatusSubmitted, d.Status, func(p *models.Payment) {
		p.AdminID = d.AdminID
		p.AdminComment = d.Comment
		if d.Status == models.StatusValidated {
			p.PaidAmount = d.Amount
		}
		at := d.At
		p.DecidedAt = &at
	})
}

func (m *memStore) AttachValidationMessages(_ context.Context, id string, refs []models.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return models.ErrPaymentNotFound
	}
	p.ValidationMessages = append([]models.MessageRef(nil), refs...)
	m.payments[id] = p
	return nil
}

func (m *memStore) FindPaymentByValidationMessage(_ context.Context, chatID int64, messageID int) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		for _, ref := range p.ValidationMessages {
			if ref.ChatID == chatID && ref.MessageID == messageID {
				return &p, nil
			}
		}
	}
	return nil, models.ErrPaymentNotFound
}

func (m *memStore) Stats(context.Context) (models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCity := map[models.City]*models.CityStats{}
	for _, c := range models.Cities {
		byCity[c] = &models.CityStats{City: c, ByStatus: map[models.PaymentStatus]int{}}
	}
	var st models.Stats
	for _, u := range m.users {
		if u.Canceled() {
			continue
		}
		cs := byCity[u.City]
		cs.Registered++
		cs.ByStatus[u.PaymentStatus]++
		if u.PaymentStatus == models.StatusValidated {
			cs.Collected += u.PaymentAmount
		}
	}
	for _, c := range models.Cities {
		st.Cities = append(st.Cities, *byCity[c])
		st.Registered += byCity[c].Registered
		st.Collected += byCity[c].Collected
	}
	return st, nil
}

func (m *memStore) user(id int64) (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}

func (m *memStore) paymentsOf(userID int64) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, id := range m.order {
		if p := m.payments[id]; p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

type fakeExporter struct {
	mu    sync.Mutex
	calls int
}

func (e *fakeExporter) ExportUsers(_ context.Context, users []models.User) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return "https://docs.google.com/spreadsheets/d/test", nil
}

type harness struct {
	t      *testing.T
	bot    *fakeBot
	store  *memStore
	app    *App
	nextID int
}

func testConfig() config.Config {
	return config.Config{
		AdminTGIDs:     map[int64]bool{adminID: true},
		EventsChatID:   eventsChat,
		PromptTimeout:  3 * time.Second,
		PaymentTimeout: 3 * time.Second,
		AdminTimeout:   3 * time.Second,
		PaymentPhone:   "+7 900 000-00-00",
		PaymentName:    "Иван И.",
		SigningSecret:  "test-secret",
		BasePublicURL:  "https://bot.example.org",
	}
}

func newHarness(t *testing.T, now time.Time, mutate func(*config.Config), opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, now, mutate, nil, opts...)
}

// newHarnessWith lets wrap put a Store in front of the in-memory one.
func newHarnessWith(t *testing.T, now time.Time, mutate func(*config.Config), wrap func(*memStore) Store, opts ...Option) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	prices, err := pricing.Default()
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	bot := newFakeBot()
	store := newMemStore()
	var backend Store = store
	if wrap != nil {
		backend = wrap(store)
	}
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	app := New(cfg, bot, backend, prices, zap.NewNop(), opts...)
	app.outbox.delay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{t: t, bot: bot, store: store, app: app}
}

func commandEntities(text string) []tgbotapi.MessageEntity {
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	n := strings.IndexByte(text, ' ')
	if n < 0 {
		n = len(text)
	}
	return []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
}

func (h *harness) message(chatID, userID int64, text string, mutate func(m *tgbotapi.Message)) {
	chatType := "private"
	if chatID != userID {
		chatType = "supergroup"
	}
	h.nextID++
	m := &tgbotapi.Message{
		MessageID: h.nextID,
		From:      &tgbotapi.User{ID: userID, UserName: "alumnus"},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType},
		Text:      text,
		Entities:  commandEntities(text),
	}
	if mutate != nil {
		mutate(m)
	}
	h.bot.updates <- tgbotapi.Update{Message: m}
}

// say sends text from a user in their private chat.
func (h *harness) say(userID int64, text string) {
	h.message(userID, userID, text, nil)
}

func (h *harness) sendPhoto(userID int64) {
	h.message(userID, userID, "", func(m *tgbotapi.Message) {
		m.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	})
}

func (h *harness) press(chatID, userID int64, data string, msgID int) {
	h.bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      uuid.NewString(),
		From:    &tgbotapi.User{ID: userID, UserName: "admin"},
		Message: &tgbotapi.Message{MessageID: msgID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

// replyTo sends text in chatID as a reply to message replyID.
func (h *harness) replyTo(chatID, userID int64, replyID int, text string) {
	h.message(chatID, userID, text, func(m *tgbotapi.Message) {
		m.ReplyToMessage = &tgbotapi.Message{MessageID: replyID, Chat: &tgbotapi.Chat{ID: chatID}}
	})
}

// expect waits for an unread message to chatID containing substr.
func (h *harness) expect(chatID int64, substr string) sent {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, ok := h.bot.take(func(s sent) bool {
			return s.ChatID == chatID && strings.Contains(s.Text, substr)
		})
		if ok {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("no message to %d containing %q; sent: %s", chatID, substr, h.dump())
	return sent{}
}

func (h *harness) expectKind(chatID int64, kind, substr string) sent {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, ok := h.bot.take(func(s sent) bool {
			return s.ChatID == chatID && s.Kind == kind && strings.Contains(s.Text, substr)
		})
		if ok {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("no %s to %d containing %q; sent: %s", kind, chatID, substr, h.dump())
	return sent{}
}

// expectNone checks that nothing containing substr reaches chatID within d.
func (h *harness) expectNone(chatID int64, substr string, d time.Duration) {
	h.t.Helper()
	time.Sleep(d)
	if s, ok := h.bot.take(func(s sent) bool {
		return s.ChatID == chatID && strings.Contains(s.Text, substr)
	}); ok {
		h.t.Fatalf("unexpected message to %d: %q", chatID, s.Text)
	}
}

func (h *harness) dump() string {
	h.bot.mu.Lock()
	defer h.bot.mu.Unlock()
	var b strings.Builder
	for _, s := range h.bot.log {
		b.WriteString("\n  ")
		b.WriteString(s.Kind)
		b.WriteString(" → ")
		b.WriteString(strings.ReplaceAll(s.Text, "\n", " | "))
	}
	return b.String()
}

// register walks a user through the registration prompts.
func (h *harness) register(userID int64, city models.City, name, graduation string) {
	h.t.Helper()
	h.say(userID, "/start")
	h.expect(userID, "В каком городе")
	h.press(userID, userID, cbCity+string(city), 1)
	h.expect(userID, "Как вас зовут")
	h.say(userID, name)
	h.expect(userID, "год выпуска")
	h.say(userID, graduation)
	h.expect(userID, "Вы зарегистрированы")
}
