package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/flowbot/internal/telemetry"
)

// Handler обрабатывает одну доставку. nil — ack; ошибка с ErrReject —
// сообщение уходит в DLQ; любая другая ошибка — сообщение возвращается
// в очередь.
type Handler func(ctx context.Context, d *Delivery) error

// ErrReject — обработка невозможна, повтор не поможет: сообщение уходит в DLQ.
var ErrReject = errors.New("message rejected")

// Reject помечает ошибку как окончательную.
func Reject(err error) error {
	return fmt.Errorf("%w: %w", ErrReject, err)
}

// Delivery — полученное сообщение.
type Delivery struct {
	ID        string
	Type      MessageType
	Payload   json.RawMessage
	Timestamp time.Time

	// Attempt — номер доставки, начиная с 1 (по x-delivery-count quorum очереди).
	Attempt int
}

// DecodePayload разбирает payload доставки.
func DecodePayload[T any](d *Delivery) (T, error) {
	var v T
	if len(d.Payload) == 0 {
		return v, errors.New("empty payload")
	}
	if err := json.Unmarshal(d.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", d.Type, err)
	}
	return v, nil
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue string

	// Type — ожидаемый тип сообщений (пусто — любой). Чужие типы уходят в DLQ.
	Type MessageType

	Handler Handler

	// Prefetch — неподтверждённых сообщений на канал (default: 1).
	Prefetch int

	// Concurrency — параллельных обработчиков (default: Prefetch).
	// Порядок сообщений одного разговора обеспечивает блокировка оркестратора.
	Concurrency int

	// MaxDeliveries — после стольких неудачных доставок сообщение уходит
	// в DLQ вместо очереди (default: 5).
	MaxDeliveries int
}

const defaultMaxDeliveries = 5

// Consumer потребляет сообщения из очереди и переподписывается после
// восстановления канала.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig

	cancelFunc context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.Prefetch
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Start потребляет сообщения до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started", "prefetch", c.cfg.Prefetch, "concurrency", c.cfg.Concurrency)
			c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("subscription lost, waiting for channel")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil || ch.IsClosed() {
		return nil, ErrNotConnected
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает доставки до закрытия канала или отмены ctx и ждёт
// завершения обработчиков.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			g.Go(func() error {
				c.handle(ctx, raw)
				return nil
			})
		}
	}
}

// envelope — формат тела сообщения (см. Message).
type envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type outcome string

const (
	outcomeAck     outcome = "ack"
	outcomeRequeue outcome = "requeue"
	outcomeReject  outcome = "reject"
)

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	d, err := c.parse(raw)
	if err != nil {
		c.logger.Error("malformed message", "error", err, "body", truncateBody(raw.Body))
		c.settle(raw, outcomeReject)
		return
	}

	logger := c.logger.With("message_id", d.ID, "type", d.Type, "attempt", d.Attempt)
	logger.Debug("received message")

	herr := c.cfg.Handler(telemetry.WithLogger(ctx, logger), d)
	out := decide(herr, d.Attempt, c.cfg.MaxDeliveries)

	switch out {
	case outcomeRequeue:
		logger.Warn("handler failed, requeued", "error", herr)
	case outcomeReject:
		if herr != nil {
			logger.Error("handler failed, dead-lettered", "error", herr)
		}
	}
	c.settle(raw, out)
}

func (c *Consumer) parse(raw amqp.Delivery) (*Delivery, error) {
	var env envelope
	if err := json.Unmarshal(raw.Body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if c.cfg.Type != "" && env.Type != c.cfg.Type {
		return nil, fmt.Errorf("unexpected message type %q", env.Type)
	}
	if env.ID == "" {
		env.ID = raw.MessageId
	}
	return &Delivery{
		ID:        env.ID,
		Type:      env.Type,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
		Attempt:   deliveryCount(raw.Headers) + 1,
	}, nil
}

func (c *Consumer) settle(raw amqp.Delivery, out outcome) {
	var err error
	switch out {
	case outcomeAck:
		err = raw.Ack(false)
	case outcomeRequeue:
		err = raw.Nack(false, true)
	default:
		err = raw.Nack(false, false)
	}
	if err != nil {
		// Канал закрыт: брокер вернёт сообщение в очередь сам
		c.logger.Warn("failed to settle delivery", "outcome", out, "error", err)
		return
	}
	telemetry.MQDeliveries.WithLabelValues(c.cfg.Queue, string(out)).Inc()
}

// decide выбирает исход доставки по ошибке обработчика и номеру попытки.
func decide(err error, attempt, maxDeliveries int) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrReject):
		return outcomeReject
	case attempt >= maxDeliveries:
		return outcomeReject
	default:
		return outcomeRequeue
	}
}

// deliveryCount читает x-delivery-count (число предыдущих доставок).
func deliveryCount(headers amqp.Table) int {
	switch v := headers["x-delivery-count"].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}
