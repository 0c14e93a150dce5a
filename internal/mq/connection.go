package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// ErrNotConnected — канал недоступен (соединение восстанавливается или закрыто).
var ErrNotConnected = errors.New("mq: not connected")

// reconnectPolicy — задержки между попытками восстановить соединение.
var reconnectPolicy = &domain.RetryPolicy{
	Backoff:        "exponential",
	InitialDelayMs: 1000,
	MaxDelayMs:     30000,
}

const heartbeat = 10 * time.Second

// Connection — соединение с RabbitMQ и один общий канал.
//
// Разрыв соединения восстанавливается повторным dial с нарастающей
// задержкой. Закрытие только канала (например, после ошибки публикации)
// восстанавливается открытием нового канала на том же соединении.
// Подписчики ReconnectNotify узнают о новом канале и переподписываются.
type Connection struct {
	url    string
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed   bool
	closedCh chan struct{}

	reconnectCh chan struct{}
}

// NewConnection подключается к RabbitMQ. Имя соединения в management UI —
// имя бинарника (flowbot-orchestrator, flowbot-worker, ...).
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:         url,
		name:        filepath.Base(os.Args[0]),
		logger:      logger.With("component", "mq"),
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}

	if err := c.dial(); err != nil {
		return nil, err
	}

	go c.watch()

	return c, nil
}

func (c *Connection) dial() error {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(c.name)

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeat,
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := openConfirmChannel(conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ", "connection_name", c.name)
	return nil
}

// reopenChannel открывает новый канал на живом соединении.
func (c *Connection) reopenChannel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return ErrNotConnected
	}
	ch, err := openConfirmChannel(c.conn)
	if err != nil {
		return err
	}
	c.channel = ch
	return nil
}

// openConfirmChannel открывает канал в режиме publisher confirms.
func openConfirmChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return ch, nil
}

// watch ждёт закрытия соединения или канала и восстанавливает их.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn, ch := c.conn, c.channel
		c.mu.RUnlock()

		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return

		case err := <-chClosed:
			if c.isClosed() {
				return
			}
			c.logger.Warn("channel closed", "error", err)
			if rerr := c.reopenChannel(); rerr == nil {
				telemetry.MQReconnects.WithLabelValues("channel").Inc()
				c.notifyReconnect()
				continue
			}
			// Соединение тоже потеряно
			if !c.redial() {
				return
			}

		case err := <-connClosed:
			if c.isClosed() {
				return
			}
			c.logger.Warn("connection closed", "error", err)
			if !c.redial() {
				return
			}
		}
	}
}

// redial переподключается до успеха или Close. false — соединение закрыто.
func (c *Connection) redial() bool {
	for attempt := 1; ; attempt++ {
		delay := reconnectPolicy.Delay(attempt)
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		telemetry.MQReconnects.WithLabelValues("connection").Inc()
		c.notifyReconnect()
		return true
	}
}

func (c *Connection) notifyReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Channel возвращает текущий канал.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify сигнализирует, что канал заменён новым.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// Close закрывает канал и соединение. Повторный вызов — no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("connection closed")
	return errors.Join(errs...)
}

// IsConnected сообщает, открыты ли соединение и канал.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil && !c.conn.IsClosed() &&
		c.channel != nil && !c.channel.IsClosed()
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch, closed := c.channel, c.closed
	c.mu.RUnlock()

	if closed || ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}
	return fn(ch)
}
