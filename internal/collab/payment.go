package collab

import (
	"context"
	"fmt"

	"github.com/shaiso/flowbot/internal/steps"
)

// PaymentConfig — настройки HTTPPayment.
type PaymentConfig struct {
	HTTPConfig

	// Path — путь создания ссылки (default: /payment-links).
	Path string
}

// HTTPPayment создаёт платёжные ссылки.
//
// Ключ идемпотентности передаётся в заголовке Idempotency-Key: повтор
// запроса после таймаута возвращает ту же ссылку.
type HTTPPayment struct {
	http *httpClient
	path string
}

var _ steps.PaymentService = (*HTTPPayment)(nil)

// NewHTTPPayment создаёт HTTPPayment.
func NewHTTPPayment(cfg PaymentConfig) *HTTPPayment {
	path := cfg.Path
	if path == "" {
		path = "/payment-links"
	}
	return &HTTPPayment{
		http: newHTTPClient("payment", cfg.HTTPConfig),
		path: path,
	}
}

// CreateLink создаёт платёжную ссылку.
func (p *HTTPPayment) CreateLink(ctx context.Context, req *steps.PaymentRequest) (*steps.PaymentLink, error) {
	items := make([]map[string]any, len(req.Items))
	for i, item := range req.Items {
		items[i] = map[string]any{
			"product_id": item.ProductID,
			"title":      item.Title,
			"price":      item.Price,
			"quantity":   item.Quantity,
		}
	}

	body := map[string]any{
		"tenant_id":   req.TenantID,
		"customer_id": req.EndUserID,
		"amount":      req.Amount,
		"currency":    req.Currency,
		"description": req.Description,
		"items":       items,
	}
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}

	resp, err := p.http.post(ctx, p.path, headers, body)
	if err != nil {
		return nil, err
	}

	link := &steps.PaymentLink{
		ID:  pickString(resp, "id", "data.id", "payment_id"),
		URL: pickString(resp, "url", "data.url", "link", "payment_url"),
	}
	if link.URL == "" {
		return nil, fmt.Errorf("%w: payment response has no url", ErrBadResponse)
	}
	return link, nil
}
