package steps

import (
	"context"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// ExtractorExecutor — slot filling: извлекает значения переменных схемы
// из диалога и сливает их с уже собранными.
//
// Ошибки коллаборатора и неразборчивый ответ не ломают run: все переменные
// считаются отсутствующими, и flow переспрашивает пользователя.
//
// Outputs:
//
//	{
//	    "allRequiredPresent": false,
//	    "missingFields": ["editor", "edition"],
//	    "nextMissing": "editor",
//	    "confidence": 0.9,
//	    "extracted": {"title": "Book X"}
//	}
type ExtractorExecutor struct {
	service      ExtractionService
	historyTurns int
}

// NewExtractorExecutor создаёт ExtractorExecutor.
func NewExtractorExecutor(service ExtractionService, historyTurns int) *ExtractorExecutor {
	return &ExtractorExecutor{service: service, historyTurns: historyTurns}
}

// Type возвращает тип исполнителя.
func (e *ExtractorExecutor) Type() string {
	return string(domain.NodeKindExtractor)
}

// RetrySafe — извлечение не имеет внешних эффектов.
func (e *ExtractorExecutor) RetrySafe() bool { return true }

// Execute исполняет extractor узел.
func (e *ExtractorExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrNodeCancelled
	}

	cfg := req.Node.Extractor
	logger := telemetry.FromContext(ctx)

	existing := req.Scope.Globals
	candidate := map[string]any{}
	confidence := 0.0

	if e.service != nil {
		turns := cfg.HistoryTurns
		if turns <= 0 {
			turns = e.historyTurns
		}

		callCtx, cancel := withTimeout(ctx, req)
		raw, err := e.service.Extract(callCtx, &ExtractionRequest{
			History:      lastTurns(req.History, turns),
			Message:      req.Message(),
			Schema:       cfg.Variables,
			Instructions: GetConfigString(req.Config, "instructions"),
			Known:        knownValues(cfg.Variables, existing),
		})
		cancel()

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ErrNodeCancelled
			}
			logger.Warn("extraction failed, treating all fields as absent", "node_id", req.Node.ID, "error", err)
		default:
			extraction, perr := ParseExtraction(raw, cfg.Variables)
			if perr != nil {
				logger.Warn("extraction response not parseable, treating all fields as absent",
					"node_id", req.Node.ID, "error", perr)
				break
			}
			candidate = extraction.Values
			confidence = extraction.Confidence
		}
	}

	updates := domain.MergeCollected(existing, candidate)

	merged := make(map[string]any, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	all, missing := domain.RequiredStatus(cfg.Variables, merged)

	missingAny := make([]any, len(missing))
	nextMissing := ""
	for i, name := range missing {
		missingAny[i] = name
	}
	if len(missing) > 0 {
		nextMissing = missing[0]
	}

	res := NewResult(map[string]any{
		"allRequiredPresent": all,
		"missingFields":      missingAny,
		"nextMissing":        nextMissing,
		"confidence":         confidence,
		"extracted":          updates,
	})
	res.Globals = updates
	return res, nil
}

// knownValues возвращает собранные значения переменных схемы.
func knownValues(schema []domain.VariableSchema, vars map[string]any) map[string]any {
	known := make(map[string]any)
	for _, v := range schema {
		if domain.IsCollected(vars, v.Name) {
			known[v.Name] = vars[v.Name]
		}
	}
	return known
}

// lastTurns возвращает последние n реплик (n <= 0 — все).
func lastTurns(history []domain.Turn, n int) []domain.Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
