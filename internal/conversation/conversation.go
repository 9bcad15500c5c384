// Package conversation runs prompt/response exchanges with Telegram users.
//
// Every running flow owns a Session keyed by chat and user. The update loop
// hands incoming messages to the Manager, which routes them to the session
// waiting for an answer. Flow state never lives in package scope.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrAborted is returned by Ask when the session was replaced or ended.
var ErrAborted = errors.New("conversation aborted")

type Key struct {
	ChatID int64
	UserID int64
}

// Answer is what the user sent back: a message or an inline button press.
type Answer struct {
	Text     string
	Data     string
	Message  *tgbotapi.Message
	Callback *tgbotapi.CallbackQuery
}

// Reply is either Answered or TimedOut. The zero value is TimedOut.
type Reply struct {
	answer   Answer
	answered bool
}

func answered(a Answer) Reply { return Reply{answer: a, answered: true} }

func timedOut() Reply { return Reply{} }

// Answer returns the answer and true, or false when the prompt timed out.
func (r Reply) Answer() (Answer, bool) {
	return r.answer, r.answered
}

func (r Reply) TimedOut() bool { return !r.answered }

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Manager struct {
	sender Sender

	mu       sync.Mutex
	sessions map[Key]*Session
}

func NewManager(sender Sender) *Manager {
	return &Manager{sender: sender, sessions: map[Key]*Session{}}
}

// Start opens a session for key. A session already running for the same key
// is aborted.
func (m *Manager) Start(parent context.Context, key Key) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		key:     key,
		ctx:     ctx,
		cancel:  cancel,
		sender:  m.sender,
		replies: make(chan Answer, 1),
	}

	m.mu.Lock()
	if old, ok := m.sessions[key]; ok {
		old.cancel()
	}
	m.sessions[key] = s
	m.mu.Unlock()
	return s
}

// End releases the session. It is safe to call more than once.
func (m *Manager) End(s *Session) {
	s.cancel()
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

// Deliver hands a to the session waiting under key. It reports false when no
// session is waiting for an answer.
func (m *Manager) Deliver(key Key, a Answer) bool {
	m.mu.Lock()
	s := m.sessions[key]
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return s.offer(a)
}

// Abort cancels the session running under key.
func (m *Manager) Abort(key Key) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
	return ok
}

func (m *Manager) Active(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

type Session struct {
	key    Key
	ctx    context.Context
	cancel context.CancelFunc
	sender Sender

	mu      sync.Mutex
	waiting bool
	replies chan Answer
}

func (s *Session) Key() Key                 { return s.key }
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.sender.Send(c)
}

// Say sends plain text to the session chat.
func (s *Session) Say(text string) error {
	_, err := s.sender.Send(tgbotapi.NewMessage(s.key.ChatID, text))
	return err
}

// Ask sends prompt and waits for a single answer. A timeout is not an error:
// it is reported through the returned Reply.
func (s *Session) Ask(prompt tgbotapi.Chattable, timeout time.Duration) (Reply, error) {
	if err := s.ctx.Err(); err != nil {
		return timedOut(), ErrAborted
	}

	// Waiting starts before the prompt goes out so a quick answer is not lost.
	s.setWaiting(true)
	if _, err := s.sender.Send(prompt); err != nil {
		s.setWaiting(false)
		return timedOut(), err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case a := <-s.replies:
		return answered(a), nil
	case <-s.ctx.Done():
		s.setWaiting(false)
		return timedOut(), ErrAborted
	case <-timer.C:
		s.mu.Lock()
		s.waiting = false
		s.mu.Unlock()
		// an answer may have slipped in just before the deadline
		select {
		case a := <-s.replies:
			return answered(a), nil
		default:
			return timedOut(), nil
		}
	}
}

func (s *Session) setWaiting(v bool) {
	s.mu.Lock()
	s.waiting = v
	s.mu.Unlock()
}

func (s *Session) offer(a Answer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waiting {
		return false
	}
	select {
	case s.replies <- a:
		s.waiting = false
		return true
	default:
		return false
	}
}
