package collab

import (
	"context"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/steps"
)

// Transport доставляет сообщение в мессенджер.
type Transport interface {
	Deliver(ctx context.Context, msg *domain.OutboundMessage) error
}

// TransportConfig — настройки HTTPTransport.
type TransportConfig struct {
	HTTPConfig

	// Path — путь отправки (default: /messages).
	Path string
}

// HTTPTransport отправляет текстовые сообщения через HTTP API транспорта WhatsApp.
//
//	POST /messages {"tenant_id": "...", "to": "+521...", "type": "text", "text": "..."}
//
// Транспорт отбрасывает повторы по заголовку Idempotency-Key.
type HTTPTransport struct {
	http *httpClient
	path string
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport создаёт HTTPTransport.
func NewHTTPTransport(cfg TransportConfig) *HTTPTransport {
	path := cfg.Path
	if path == "" {
		path = "/messages"
	}
	return &HTTPTransport{
		http: newHTTPClient("transport", cfg.HTTPConfig),
		path: path,
	}
}

// Deliver отправляет сообщение.
func (t *HTTPTransport) Deliver(ctx context.Context, msg *domain.OutboundMessage) error {
	body := map[string]any{
		"tenant_id": msg.TenantID,
		"to":        msg.EndUserID,
		"type":      "text",
		"text":      msg.Text,
	}
	if len(msg.Metadata) > 0 {
		body["metadata"] = msg.Metadata
	}
	headers := map[string]string{"Idempotency-Key": msg.IdempotencyKey}

	_, err := t.http.post(ctx, t.path, headers, body)
	return err
}

// DeliverOnce доставляет сообщение, если ключ ещё не записан в журнале
// как доставленный. Возвращает false для повтора.
func DeliverOnce(ctx context.Context, transport Transport, ledger steps.EffectLedger, msg *domain.OutboundMessage) (bool, error) {
	if ledger != nil {
		if _, done, err := ledger.Lookup(ctx, msg.IdempotencyKey); err == nil && done {
			return false, nil
		}
	}

	if err := transport.Deliver(ctx, msg); err != nil {
		return false, err
	}

	if ledger != nil {
		// Ошибка записи допускает повторную доставку, транспорт отбросит её по ключу
		_ = ledger.Record(ctx, msg.IdempotencyKey, steps.EffectDelivery, map[string]any{
			"tenant_id":   msg.TenantID,
			"end_user_id": msg.EndUserID,
		})
	}
	return true, nil
}
