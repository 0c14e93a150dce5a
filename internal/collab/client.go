package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

// HTTPConfig — общие настройки HTTP коллаборатора.
type HTTPConfig struct {
	// BaseURL — адрес сервиса (пусто — коллаборатор не настроен).
	BaseURL string

	// Token — bearer токен (опционально).
	Token string

	// Timeout — таймаут одного запроса (default: 10s).
	Timeout time.Duration

	// Breaker — настройки breaker. Name по умолчанию — имя коллаборатора.
	Breaker BreakerConfig

	Logger *slog.Logger
}

// httpClient — resty клиент с breaker.
type httpClient struct {
	name    string
	client  *resty.Client
	breaker *Breaker
	timeout time.Duration
	logger  *slog.Logger
}

func newHTTPClient(name string, cfg HTTPConfig) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "flowbot/1.0")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	bcfg := cfg.Breaker
	if bcfg.Name == "" {
		bcfg.Name = name
	}
	if bcfg.Logger == nil {
		bcfg.Logger = logger
	}

	return &httpClient{
		name:    name,
		client:  client,
		breaker: NewBreaker(bcfg),
		timeout: timeout,
		logger:  logger,
	}
}

// post отправляет JSON body и возвращает разобранный JSON ответа.
func (c *httpClient) post(ctx context.Context, path string, headers map[string]string, body any) (*gabs.Container, error) {
	if c.client.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, c.name)
	}

	var parsed *gabs.Container
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(body).
			Post(path)
		if err != nil {
			return fmt.Errorf("%s request: %w", c.name, err)
		}
		if resp.IsError() {
			return &StatusError{Code: resp.StatusCode(), Body: resp.String()}
		}

		raw := resp.Body()
		if len(raw) == 0 {
			parsed = gabs.New()
			return nil
		}
		parsed, err = gabs.ParseJSON(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadResponse, c.name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

// pickString возвращает первое непустое строковое поле из paths.
func pickString(c *gabs.Container, paths ...string) string {
	for _, p := range paths {
		if s, ok := c.Path(p).Data().(string); ok && s != "" {
			return s
		}
	}
	return ""
}
