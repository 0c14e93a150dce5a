package collab

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/steps"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// OutboundPublisher публикует исходящие сообщения (mq.Publisher).
type OutboundPublisher interface {
	PublishOutbound(ctx context.Context, out *domain.OutboundMessage) error
}

// QueueMessenger отправляет сообщения через очередь messages.outbound.
// Доставку выполняет worker.
type QueueMessenger struct {
	publisher OutboundPublisher
}

var _ steps.Messenger = (*QueueMessenger)(nil)

// NewQueueMessenger создаёт QueueMessenger.
func NewQueueMessenger(publisher OutboundPublisher) *QueueMessenger {
	return &QueueMessenger{publisher: publisher}
}

// Send публикует сообщение.
func (m *QueueMessenger) Send(ctx context.Context, msg *domain.OutboundMessage) error {
	if err := m.publisher.PublishOutbound(ctx, msg); err != nil {
		return fmt.Errorf("publish outbound: %w", err)
	}
	return nil
}

// DirectMessenger доставляет сообщения транспорту в том же процессе.
// Используется без брокера (синхронный режим API, локальный запуск).
type DirectMessenger struct {
	transport Transport
	ledger    steps.EffectLedger
	logger    *slog.Logger
}

var _ steps.Messenger = (*DirectMessenger)(nil)

// NewDirectMessenger создаёт DirectMessenger. ledger может быть nil.
func NewDirectMessenger(transport Transport, ledger steps.EffectLedger, logger *slog.Logger) *DirectMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectMessenger{transport: transport, ledger: ledger, logger: logger}
}

// Send доставляет сообщение, пропуская уже доставленные ключи.
func (m *DirectMessenger) Send(ctx context.Context, msg *domain.OutboundMessage) error {
	delivered, err := DeliverOnce(ctx, m.transport, m.ledger, msg)
	if err != nil {
		telemetry.OutboundDelivered.WithLabelValues("failed").Inc()
		return err
	}
	if !delivered {
		telemetry.OutboundDelivered.WithLabelValues("duplicate").Inc()
		m.logger.Debug("message already delivered", "key", msg.IdempotencyKey)
		return nil
	}
	telemetry.OutboundDelivered.WithLabelValues("delivered").Inc()
	return nil
}

// LogTransport пишет сообщения в лог вместо отправки (локальная разработка).
type LogTransport struct {
	Logger *slog.Logger
}

// Deliver логирует сообщение.
func (t LogTransport) Deliver(ctx context.Context, msg *domain.OutboundMessage) error {
	logger := t.Logger
	if logger == nil {
		logger = telemetry.FromContext(ctx)
	}
	logger.Info("outbound message",
		"tenant_id", msg.TenantID,
		"end_user_id", msg.EndUserID,
		"key", msg.IdempotencyKey,
		"text", msg.Text,
	)
	return nil
}
