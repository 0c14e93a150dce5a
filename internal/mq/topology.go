package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEvents   Exchange = "flowbot.events"
	ExchangeMessages Exchange = "flowbot.messages"
	ExchangeDLQ      Exchange = "flowbot.dlq"
)

// Queues — имена очередей.
const (
	QueueEventsInbound    Queue = "events.inbound"
	QueueMessagesOutbound Queue = "messages.outbound"
	QueueDLQEvents        Queue = "dlq.events"
	QueueDLQMessages      Queue = "dlq.messages"
)

// Routing keys.
const (
	RoutingKeyInbound     RoutingKey = "inbound"
	RoutingKeyOutbound    RoutingKey = "outbound"
	RoutingKeyDLQEvents   RoutingKey = "events"
	RoutingKeyDLQMessages RoutingKey = "messages"
)

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeEvents, ExchangeMessages, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Рабочие очереди — quorum: брокер ведёт x-delivery-count, по которому
	// consumer отправляет зациклившиеся сообщения в DLQ.
	work := func(key RoutingKey) amqp.Table {
		return amqp.Table{
			"x-queue-type":              "quorum",
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(key),
		}
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// events.inbound — отвергнутые события уходят в dlq.events
		{QueueEventsInbound, work(RoutingKeyDLQEvents)},

		// messages.outbound — сообщения, не доставленные после retry
		{QueueMessagesOutbound, work(RoutingKeyDLQMessages)},

		{QueueDLQEvents, nil},
		{QueueDLQMessages, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueEventsInbound, RoutingKeyInbound, ExchangeEvents},
		{QueueMessagesOutbound, RoutingKeyOutbound, ExchangeMessages},
		{QueueDLQEvents, RoutingKeyDLQEvents, ExchangeDLQ},
		{QueueDLQMessages, RoutingKeyDLQMessages, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
