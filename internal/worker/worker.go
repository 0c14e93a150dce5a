package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/flowbot/internal/collab"
	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/mq"
	"github.com/shaiso/flowbot/internal/steps"
)

// Default configuration values.
const (
	defaultPrefetch    = 5
	defaultMaxAttempts = 4
	defaultInitialMs   = 500
	defaultMaxDelayMs  = 10_000
)

// Worker доставляет исходящие сообщения в транспорт.
//
// Worker — stateless компонент системы, который:
//   - Получает сообщения из очереди messages.outbound
//   - Пропускает ключи, уже записанные в журнал как доставленные
//   - Доставляет сообщение транспорту с retry и exponential backoff
//   - Отправляет недоставленные сообщения в DLQ
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	transport collab.Transport
	ledger    steps.EffectLedger

	// MQ
	conn     *mq.Connection
	consumer *mq.Consumer
	prefetch int

	// Retry
	retry *domain.RetryPolicy
	sleep func(ctx context.Context, d time.Duration) error

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Transport — доставка сообщений (обязательно).
	Transport collab.Transport

	// Ledger — журнал доставленных ключей (nil — без дедупликации).
	Ledger steps.EffectLedger

	// MQ
	Conn     *mq.Connection
	Prefetch int // default: 5

	// Retry — политика повторов доставки (default: 4 попытки, exponential 500ms..10s).
	Retry *domain.RetryPolicy

	// Sleep — ожидание между попытками (default: с учётом ctx).
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	retry := cfg.Retry
	if retry == nil {
		retry = &domain.RetryPolicy{
			MaxAttempts:    defaultMaxAttempts,
			Backoff:        "exponential",
			InitialDelayMs: defaultInitialMs,
			MaxDelayMs:     defaultMaxDelayMs,
		}
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		transport: cfg.Transport,
		ledger:    cfg.Ledger,
		conn:      cfg.Conn,
		prefetch:  prefetch,
		retry:     retry,
		sleep:     sleep,
		logger:    logger,
	}
}

// Start запускает consumer для messages.outbound.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return errors.New("worker: no mq connection")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"prefetch", w.prefetch,
		"max_attempts", w.retry.Attempts(),
	)

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueMessagesOutbound),
		Type:     mq.MessageTypeMessageOutbound,
		Handler:  w.handleOutbound,
		Prefetch: w.prefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("outbound consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// sleepContext ждёт d или отмены ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
