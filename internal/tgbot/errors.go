package tgbot

import (
	"errors"
	"fmt"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
	"meetup-bot/internal/registration"
)

var (
	// ErrTimeout marks a prompt the user left unanswered.
	ErrTimeout          = errors.New("no response in time")
	ErrPermissionDenied = errors.New("permission denied")
)

type TimeoutError struct {
	// Hint tells the user how to pick up again.
	Hint string
}

func (e *TimeoutError) Error() string        { return ErrTimeout.Error() }
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func timeoutErr(hint string) error {
	return &TimeoutError{Hint: hint}
}

// InputError is an answer that stayed invalid after the re-prompt.
type InputError struct {
	Message string
	Hint    string
	Err     error
}

func (e *InputError) Error() string { return "invalid input: " + e.Message }
func (e *InputError) Unwrap() error { return e.Err }

func inputErr(err error, hint string) error {
	return &InputError{Message: inputMessage(err), Hint: hint, Err: err}
}

// inputMessage picks the text shown to the user for a rejected answer.
func inputMessage(err error) string {
	if ve, ok := registration.AsValidation(err); ok {
		return ve.Message
	}
	return err.Error()
}

// ExternalError wraps a failure of Telegram, MongoDB or Google Sheets.
type ExternalError struct {
	Service string
	Err     error
}

func (e *ExternalError) Error() string { return e.Service + ": " + e.Err.Error() }
func (e *ExternalError) Unwrap() error { return e.Err }

const (
	serviceDB       = "база данных"
	serviceTelegram = "Telegram"
	serviceSheets   = "Google Sheets"
)

func external(service string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Service: service, Err: err}
}

const msgInternal = "Произошла ошибка. Попробуйте позже или напишите организаторам."

// userMessage converts a flow error into the text the user sees.
func userMessage(err error) string {
	var (
		te *TimeoutError
		ie *InputError
		ee *ExternalError
	)
	switch {
	case errors.As(err, &te):
		return joinHint("⏰ Время ожидания истекло.", te.Hint)
	case errors.As(err, &ie):
		return joinHint(ie.Message, ie.Hint)
	case errors.Is(err, ErrPermissionDenied):
		return "⛔ Эта команда доступна только администраторам."
	case errors.Is(err, models.ErrInvalidTransition):
		return "Этот платёж уже обработан."
	case errors.Is(err, models.ErrNotSubmitted):
		return "Платёж ещё не отправлен на проверку: подтверждение оплаты не сохранено."
	case errors.Is(err, models.ErrPaymentNotFound):
		return "Платёж не найден."
	case errors.As(err, &ee):
		return fmt.Sprintf("Сервис временно недоступен (%s). Попробуйте позже.", ee.Service)
	}
	return msgInternal
}

func joinHint(msg, hint string) string {
	if hint == "" {
		return msg
	}
	return msg + "\n" + hint
}

// silent reports errors that end a flow without telling the user.
func silent(err error) bool {
	return err == nil || errors.Is(err, conversation.ErrAborted)
}
