package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/flowbot/internal/collab"
	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/mq"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// Исходы доставки для метрики flowbot_outbound_delivered_total.
const (
	outcomeDelivered = "delivered"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

// handleOutbound обрабатывает сообщение из очереди messages.outbound.
func (w *Worker) handleOutbound(ctx context.Context, delivery *mq.Delivery) error {
	msg, err := mq.DecodePayload[domain.OutboundMessage](delivery)
	if err != nil {
		w.logger.Error("failed to parse message.outbound payload", "error", err)
		return mq.Reject(err)
	}

	err = w.Deliver(ctx, &msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrDeliveryFailed):
		// Повтор из очереди не поможет: сообщение уходит в DLQ
		return mq.Reject(err)
	default:
		return err
	}
}

// Deliver доставляет одно сообщение.
//
// Ключи, уже записанные в журнал, пропускаются. Временные ошибки транспорта
// повторяются по политике retry; постоянные (4xx) завершают доставку сразу.
func (w *Worker) Deliver(ctx context.Context, msg *domain.OutboundMessage) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}
	if msg.IdempotencyKey == "" || msg.EndUserID == "" {
		return fmt.Errorf("%w: key %q, end user %q", ErrInvalidMessage, msg.IdempotencyKey, msg.EndUserID)
	}

	logger := telemetry.WithEndUser(telemetry.WithTenant(w.logger, msg.TenantID), msg.EndUserID)
	logger = logger.With("key", msg.IdempotencyKey)

	attempts := w.retry.Attempts()
	start := time.Now()

	for attempt := 1; ; attempt++ {
		delivered, err := collab.DeliverOnce(ctx, w.transport, w.ledger, msg)
		if err == nil {
			outcome := outcomeDelivered
			if !delivered {
				outcome = outcomeDuplicate
			}
			telemetry.OutboundDelivered.WithLabelValues(outcome).Inc()
			logger.Info("message delivered",
				"outcome", outcome,
				"attempt", attempt,
				"duration", time.Since(start),
			)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= attempts || !collab.IsTemporary(err) {
			telemetry.OutboundDelivered.WithLabelValues(outcomeFailed).Inc()
			logger.Error("message delivery failed", "attempt", attempt, "error", err)
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}

		delay := w.retry.Delay(attempt)
		logger.Warn("retrying delivery", "attempt", attempt, "delay", delay, "error", err)
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}
}
