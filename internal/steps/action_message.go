package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

// MessageAction — отправка сообщения пользователю.
//
// Params:
//
//	{
//	    "text": "Encontré estos libros:",
//	    "items": "{{search.results}}",
//	    "footer": "Responde con el número.",
//	    "emptyText": "No encontré resultados."
//	}
//
// Если у узла задан itemTemplate, каждый элемент items выводится отдельной
// строкой: {{index}} — номер с 1, поля элемента доступны по имени,
// сам элемент — как {{item}}.
//
// Outputs:
//
//	{"text": "...", "sent": true}
type MessageAction struct {
	messenger Messenger
	ledger    EffectLedger
}

// NewMessageAction создаёт MessageAction.
func NewMessageAction(messenger Messenger, ledger EffectLedger) *MessageAction {
	return &MessageAction{messenger: messenger, ledger: ledger}
}

// Type возвращает тип исполнителя.
func (a *MessageAction) Type() string {
	return string(domain.ActionMessage)
}

// RetrySafe — транспорт отбрасывает повтор по ключу идемпотентности.
func (a *MessageAction) RetrySafe() bool { return true }

// Execute отправляет сообщение.
func (a *MessageAction) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrNodeCancelled
	}
	if a.messenger == nil {
		return nil, ErrInvalidConfig
	}

	params, err := actionParams(req)
	if err != nil {
		return nil, err
	}

	if recorded, ok := recordedEffect(ctx, a.ledger, req.IdempotencyKey); ok {
		res := NewResult(recorded)
		setOutputVariable(req, res, recorded["text"])
		return finishAction(req, res), nil
	}

	text := composeMessage(req, params)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is empty", ErrInvalidConfig)
	}

	callCtx, cancel := actionContext(ctx, req)
	defer cancel()

	err = a.messenger.Send(callCtx, &domain.OutboundMessage{
		IdempotencyKey: req.IdempotencyKey,
		TenantID:       req.TenantID,
		EndUserID:      req.EndUserID,
		Text:           text,
		Metadata:       GetConfigMap(params, "metadata"),
	})
	if err != nil {
		return nil, wrapCallErr(callCtx, "send message", err)
	}

	outputs := map[string]any{
		"text": text,
		"sent": true,
	}
	recordEffect(ctx, a.ledger, req.IdempotencyKey, EffectMessage, outputs)

	res := NewResult(outputs)
	res.Sent = []string{text}
	setOutputVariable(req, res, text)
	return finishAction(req, res), nil
}

// composeMessage собирает текст: заголовок, строки списка, подвал.
func composeMessage(req *Request, params map[string]any) string {
	var parts []string
	if text := strings.TrimSpace(GetConfigString(params, "text")); text != "" {
		parts = append(parts, text)
	}

	if items, ok := params["items"].([]any); ok {
		if len(items) == 0 {
			if empty := strings.TrimSpace(GetConfigString(params, "emptyText")); empty != "" {
				return empty
			}
		} else if lines := RenderList(req.Node.ItemTemplate, items, req.Scope); lines != "" {
			parts = append(parts, lines)
		}
	}

	if footer := strings.TrimSpace(GetConfigString(params, "footer")); footer != "" {
		parts = append(parts, footer)
	}
	return strings.Join(parts, "\n\n")
}

// RenderList выводит элементы списка по шаблону строки.
// Без шаблона строка — "{{index}}. {{title}}" или текст элемента.
func RenderList(tmpl *engine.Template, items []any, scope *domain.Scope) string {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		if tmpl == nil || tmpl.Err() != nil {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, itemLabel(item)))
			continue
		}
		lines = append(lines, strings.TrimSpace(tmpl.ResolveString(itemScope(scope, item, i+1))))
	}
	return strings.Join(lines, "\n")
}

// itemScope — scope строки списка: глобальные переменные run, поля элемента,
// index и item. Выходы узлов и event остаются доступны.
func itemScope(scope *domain.Scope, item any, index int) *domain.Scope {
	globals := make(map[string]any, len(scope.Globals)+4)
	for k, v := range scope.Globals {
		globals[k] = v
	}
	if fields, ok := item.(map[string]any); ok {
		for k, v := range fields {
			globals[k] = v
		}
	}
	globals["index"] = float64(index)
	globals["item"] = item

	return &domain.Scope{
		Globals: globals,
		Nodes:   scope.Nodes,
		Event:   scope.Event,
	}
}

func itemLabel(item any) string {
	if m, ok := item.(map[string]any); ok {
		for _, key := range []string{"title", "name", "label"} {
			if v, ok := m[key]; ok {
				return engine.Stringify(v)
			}
		}
	}
	return engine.Stringify(item)
}
