package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaiso/flowbot/internal/domain"
)

// ConversationalExecutor — свободный диалог с персоной.
//
// Ассистент может попутно заполнить переменные схемы. Они сливаются через
// domain.MergeCollected, поэтому пустой ответ не затирает собранное ранее.
//
// Outputs:
//
//	{"reply": "...", "sent": true}
type ConversationalExecutor struct {
	assistant    Assistant
	messenger    Messenger
	historyTurns int
}

// NewConversationalExecutor создаёт ConversationalExecutor.
func NewConversationalExecutor(assistant Assistant, messenger Messenger, historyTurns int) *ConversationalExecutor {
	return &ConversationalExecutor{
		assistant:    assistant,
		messenger:    messenger,
		historyTurns: historyTurns,
	}
}

// Type возвращает тип исполнителя.
func (e *ConversationalExecutor) Type() string {
	return string(domain.NodeKindConversational)
}

// Execute исполняет conversational узел.
func (e *ConversationalExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrNodeCancelled
	}
	if e.assistant == nil {
		return nil, fmt.Errorf("%w: no assistant configured", ErrInvalidConfig)
	}

	cfg := req.Node.Conversational

	callCtx, cancel := withTimeout(ctx, req)
	defer cancel()

	reply, err := e.assistant.Reply(callCtx, &AssistantRequest{
		Persona: GetConfigString(req.Config, "persona"),
		Topic:   GetConfigString(req.Config, "topic"),
		Prompt:  GetConfigString(req.Config, "prompt"),
		History: lastTurns(req.History, e.historyTurns),
		Message: req.Message(),
		Schema:  cfg.Variables,
		Known:   knownValues(cfg.Variables, req.Scope.Globals),
	})
	if err != nil {
		return nil, wrapCallErr(callCtx, "assistant reply", err)
	}

	// Только переменные схемы
	candidate := make(map[string]any)
	for _, v := range cfg.Variables {
		if value, ok := reply.Variables[v.Name]; ok {
			candidate[v.Name] = domain.RestoreAny(domain.Normalize(value))
		}
	}

	text := strings.TrimSpace(reply.Text)
	res := NewResult(map[string]any{
		"reply": text,
		"sent":  false,
	})
	res.Globals = domain.MergeCollected(req.Scope.Globals, candidate)

	if text != "" && cfg.ShouldSendReply() && e.messenger != nil {
		err := e.messenger.Send(callCtx, &domain.OutboundMessage{
			IdempotencyKey: req.IdempotencyKey,
			TenantID:       req.TenantID,
			EndUserID:      req.EndUserID,
			Text:           text,
		})
		if err != nil {
			return nil, wrapCallErr(callCtx, "send reply", err)
		}
		res.Outputs["sent"] = true
		res.Sent = append(res.Sent, text)
	}

	return res, nil
}
