package mq

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/flowbot/internal/domain"
)

func TestDecide(t *testing.T) {
	temporary := errors.New("db timeout")

	tests := []struct {
		name    string
		err     error
		attempt int
		want    outcome
	}{
		{"success", nil, 1, outcomeAck},
		{"success on last attempt", nil, 5, outcomeAck},
		{"temporary error requeued", temporary, 1, outcomeRequeue},
		{"temporary error before limit", temporary, 4, outcomeRequeue},
		{"temporary error at limit", temporary, 5, outcomeReject},
		{"rejected immediately", Reject(temporary), 1, outcomeReject},
		{"wrapped reject", fmt.Errorf("handle: %w", Reject(temporary)), 1, outcomeReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decide(tt.err, tt.attempt, 5); got != tt.want {
				t.Errorf("decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeliveryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no headers", nil, 0},
		{"int64", amqp.Table{"x-delivery-count": int64(3)}, 3},
		{"int32", amqp.Table{"x-delivery-count": int32(2)}, 2},
		{"unexpected type", amqp.Table{"x-delivery-count": "3"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deliveryCount(tt.headers); got != tt.want {
				t.Errorf("deliveryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConsumer_Parse(t *testing.T) {
	event := domain.InboundEvent{TenantID: "libreria", EndUserID: "+5491100000000", Message: "hola"}
	body, err := json.Marshal(&Message{ID: "wamid.1", Type: MessageTypeEventInbound, Payload: &event})
	if err != nil {
		t.Fatal(err)
	}

	c := NewConsumer(nil, nil, ConsumerConfig{Queue: string(QueueEventsInbound), Type: MessageTypeEventInbound})

	t.Run("decodes envelope and payload", func(t *testing.T) {
		d, err := c.parse(amqp.Delivery{Body: body, Headers: amqp.Table{"x-delivery-count": int64(1)}})
		if err != nil {
			t.Fatalf("parse() error = %v", err)
		}
		if d.ID != "wamid.1" || d.Attempt != 2 {
			t.Errorf("delivery = %+v", d)
		}

		got, err := DecodePayload[domain.InboundEvent](d)
		if err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if got.TenantID != "libreria" || got.Message != "hola" {
			t.Errorf("payload = %+v", got)
		}
	})

	t.Run("falls back to AMQP message id", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{"type": MessageTypeEventInbound, "payload": event})
		d, err := c.parse(amqp.Delivery{Body: raw, MessageId: "amqp-id"})
		if err != nil {
			t.Fatalf("parse() error = %v", err)
		}
		if d.ID != "amqp-id" || d.Attempt != 1 {
			t.Errorf("delivery = %+v", d)
		}
	})

	t.Run("rejects foreign type", func(t *testing.T) {
		raw, _ := json.Marshal(&Message{ID: "x", Type: MessageTypeMessageOutbound, Payload: map[string]any{}})
		if _, err := c.parse(amqp.Delivery{Body: raw}); err == nil {
			t.Error("parse() accepted outbound message on events queue")
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		if _, err := c.parse(amqp.Delivery{Body: []byte("{not json")}); err == nil {
			t.Error("parse() accepted malformed body")
		}
	})
}

func TestDecodePayload_Empty(t *testing.T) {
	if _, err := DecodePayload[domain.OutboundMessage](&Delivery{Type: MessageTypeMessageOutbound}); err == nil {
		t.Error("DecodePayload() accepted empty payload")
	}
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(nil, nil, ConsumerConfig{Queue: "q", Prefetch: 8})
	if c.cfg.Concurrency != 8 || c.cfg.MaxDeliveries != defaultMaxDeliveries {
		t.Errorf("cfg = %+v", c.cfg)
	}
}
