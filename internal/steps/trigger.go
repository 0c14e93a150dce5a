package steps

import (
	"context"
	"strings"
	"time"

	"github.com/shaiso/flowbot/internal/domain"
)

// TriggerExecutor — точка входа flow.
//
// Outputs:
//
//	{"message": "...", "endUserId": "...", "timestamp": "2024-01-01T10:00:00Z", "matched": true}
//
// Для trigger "keyword" сообщение без ключевых слов завершает run без ответа.
type TriggerExecutor struct{}

// NewTriggerExecutor создаёт TriggerExecutor.
func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{}
}

// Type возвращает тип исполнителя.
func (e *TriggerExecutor) Type() string {
	return string(domain.NodeKindTrigger)
}

// RetrySafe — trigger не имеет внешних эффектов.
func (e *TriggerExecutor) RetrySafe() bool { return true }

// Execute исполняет trigger узел.
func (e *TriggerExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrNodeCancelled
	}

	outputs := map[string]any{
		"message":   req.Message(),
		"endUserId": req.EndUserID,
		"matched":   true,
	}
	if req.Event != nil && !req.Event.Timestamp.IsZero() {
		outputs["timestamp"] = req.Event.Timestamp.UTC().Format(time.RFC3339)
	}

	res := NewResult(outputs)

	cfg := req.Node.Trigger
	if cfg != nil && cfg.Trigger == "keyword" && !matchKeyword(req.Message(), cfg.Keywords) {
		outputs["matched"] = false
		res.Terminal = true
	}
	return res, nil
}

// matchKeyword проверяет, содержит ли сообщение одно из ключевых слов (без учёта регистра).
func matchKeyword(message string, keywords []string) bool {
	msg := strings.ToLower(message)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
