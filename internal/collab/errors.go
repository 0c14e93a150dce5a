package collab

import (
	"errors"
	"fmt"
)

// Ошибки коллабораторов.
var (
	// ErrNotConfigured — у коллаборатора не задан адрес сервиса.
	ErrNotConfigured = errors.New("collaborator not configured")

	// ErrBadResponse — ответ сервиса не удалось разобрать.
	ErrBadResponse = errors.New("unexpected collaborator response")

	// ErrUnavailable — breaker разомкнут, вызов не выполнялся.
	ErrUnavailable = errors.New("collaborator unavailable")
)

// StatusError — сервис ответил HTTP статусом ошибки.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, truncate(e.Body, 200))
}

// Temporary сообщает, имеет ли смысл повтор: 5xx, 408 и 429.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 408 || e.Code == 429
}

// IsTemporary проверяет, является ли ошибка временной.
// Ошибки без статуса (сеть, таймаут) считаются временными.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, ErrNotConfigured) && !errors.Is(err, ErrBadResponse)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
