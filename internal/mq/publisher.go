package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/flowbot/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeEventInbound    MessageType = "event.inbound"
	MessageTypeMessageOutbound MessageType = "message.outbound"
)

// ErrNotConfirmed — брокер не подтвердил публикацию (nack).
var ErrNotConfirmed = errors.New("mq: publish not confirmed")

// Message — конверт сообщения в очереди.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	TenantID  string      `json:"tenant_id,omitempty"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher публикует сообщения и ждёт подтверждения брокера:
// ack API на событие означает, что событие записано в очередь.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение и ждёт confirm.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		AppId:        "flowbot",
		Timestamp:    msg.Timestamp,
		Body:         body,
	}
	if msg.TenantID != "" {
		publishing.Headers = amqp.Table{"tenant_id": msg.TenantID}
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
			string(exchange), string(routingKey), false, false, publishing)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		if confirm != nil {
			acked, err := confirm.WaitContext(ctx)
			if err != nil {
				return fmt.Errorf("wait confirm %s: %w", msg.ID, err)
			}
			if !acked {
				return fmt.Errorf("%w: %s", ErrNotConfirmed, msg.ID)
			}
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishInboundEvent публикует входящее сообщение пользователя для оркестратора.
// ID сообщения очереди — ID сообщения транспорта, если он есть.
func (p *Publisher) PublishInboundEvent(ctx context.Context, event *domain.InboundEvent) error {
	id := event.MessageID
	if id == "" {
		id = uuid.New().String()
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyInbound, &Message{
		ID:        id,
		Type:      MessageTypeEventInbound,
		TenantID:  event.TenantID,
		Payload:   event,
		Timestamp: time.Now().UTC(),
	})
}

// PublishOutbound публикует исходящее сообщение для worker.
// ID сообщения очереди — ключ идемпотентности.
func (p *Publisher) PublishOutbound(ctx context.Context, out *domain.OutboundMessage) error {
	return p.Publish(ctx, ExchangeMessages, RoutingKeyOutbound, &Message{
		ID:        out.IdempotencyKey,
		Type:      MessageTypeMessageOutbound,
		TenantID:  out.TenantID,
		Payload:   out,
		Timestamp: time.Now().UTC(),
	})
}
