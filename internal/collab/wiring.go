package collab

import (
	"log/slog"

	"github.com/shaiso/flowbot/internal/config"
	"github.com/shaiso/flowbot/internal/steps"
)

// Dependencies собирает коллабораторов исполнителей из конфигурации.
//
// Без OPENAI_API_KEY extractor работает только на эвристиках, а
// conversational узлы завершаются ошибкой конфигурации.
func Dependencies(cfg *config.Config, messenger steps.Messenger, ledger steps.EffectLedger, logger *slog.Logger) steps.Dependencies {
	deps := steps.Dependencies{
		Search: NewHTTPSearch(SearchConfig{HTTPConfig: HTTPConfig{
			BaseURL: cfg.SearchURL,
			Timeout: cfg.CollabTimeout,
			Logger:  logger,
		}}),
		Payment: NewHTTPPayment(PaymentConfig{HTTPConfig: HTTPConfig{
			BaseURL: cfg.PaymentURL,
			Timeout: cfg.CollabTimeout,
			Logger:  logger,
		}}),
		Messenger:    messenger,
		Ledger:       ledger,
		HistoryTurns: cfg.HistoryTurns,
	}

	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, language model collaborators disabled")
		return deps
	}

	ocfg := OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.CollabTimeout,
		Breaker: BreakerConfig{Logger: logger},
	}
	client := NewOpenAIClient(ocfg)
	deps.Extraction = NewOpenAIExtractor(client, ocfg)
	deps.Assistant = NewOpenAIAssistant(client, ocfg)
	return deps
}
