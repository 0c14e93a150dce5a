package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shaiso/flowbot/internal/telemetry"
)

// Исходы вызова для метрики flowbot_collaborator_requests_total.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
	outcomeOpen  = "open"
)

// BreakerConfig — настройки circuit breaker коллаборатора.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32        // запросов в half-open (default: 3)
	Interval    time.Duration // период сброса счётчиков в closed (default: 30s)
	Timeout     time.Duration // время в open до half-open (default: 30s)

	// FailureThreshold — доля ошибок для размыкания (default: 0.6).
	FailureThreshold float64

	// MinRequests — минимум запросов для оценки доли ошибок (default: 5).
	MinRequests uint32

	Logger *slog.Logger
}

// Breaker — circuit breaker вокруг вызовов одного коллаборатора.
//
// Ошибкой breaker считает только временные сбои (сеть, 5xx, 429):
// ответ 4xx означает, что сервис работает.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker создаёт Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.6
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		name: cfg.Name,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.MinRequests {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					"collaborator", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTemporary(err)
			},
		}),
	}
}

// Name возвращает имя коллаборатора.
func (b *Breaker) Name() string {
	return b.name
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Do выполняет fn под защитой breaker.
// Разомкнутый breaker возвращает ErrUnavailable без вызова fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})

	switch {
	case err == nil:
		telemetry.CollaboratorRequests.WithLabelValues(b.name, outcomeOK).Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		telemetry.CollaboratorRequests.WithLabelValues(b.name, outcomeOpen).Inc()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, b.name, err)
	default:
		telemetry.CollaboratorRequests.WithLabelValues(b.name, outcomeError).Inc()
		return err
	}
}
