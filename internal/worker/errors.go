package worker

import "errors"

// Ошибки воркера.
var (
	// ErrInvalidMessage — исходящее сообщение без ключа или получателя.
	ErrInvalidMessage = errors.New("invalid outbound message")

	// ErrDeliveryFailed — доставка не удалась после всех попыток.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
