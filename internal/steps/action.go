package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// actionParams возвращает разрешённые параметры action узла.
// Узел с неразобранным шаблоном не исполняется: адаптер никогда не получает "{{".
func actionParams(req *Request) (map[string]any, error) {
	if err := req.Node.TemplateErr(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvedTemplate, err)
	}
	params := req.Params()
	if params == nil {
		params = make(map[string]any)
	}
	if engine.ContainsPlaceholder(params) {
		return nil, fmt.Errorf("%w: resolved params still contain a placeholder", ErrUnresolvedTemplate)
	}
	return params, nil
}

// actionContext ограничивает вызов таймаутом узла (timeoutMs) или рантайма.
func actionContext(ctx context.Context, req *Request) (context.Context, context.CancelFunc) {
	if a := req.Node.Action; a != nil && a.TimeoutMs > 0 {
		return context.WithTimeout(ctx, time.Duration(a.TimeoutMs)*time.Millisecond)
	}
	return withTimeout(ctx, req)
}

// recordedEffect возвращает ранее записанный результат эффекта.
// Ошибка журнала не блокирует эффект: повтор всё равно дедуплицируется
// коллаборатором по ключу идемпотентности.
func recordedEffect(ctx context.Context, ledger EffectLedger, key string) (map[string]any, bool) {
	if ledger == nil || key == "" {
		return nil, false
	}
	result, ok, err := ledger.Lookup(ctx, key)
	if err != nil {
		telemetry.FromContext(ctx).Warn("effect ledger lookup failed", "key", key, "error", err)
		return nil, false
	}
	return result, ok
}

// recordEffect записывает результат эффекта в журнал.
func recordEffect(ctx context.Context, ledger EffectLedger, key, kind string, result map[string]any) {
	if ledger == nil || key == "" {
		return
	}
	if err := ledger.Record(ctx, key, kind, result); err != nil {
		telemetry.FromContext(ctx).Error("effect ledger record failed", "key", key, "kind", kind, "error", err)
	}
}

// setOutputVariable копирует основной результат в глобальную переменную.
func setOutputVariable(req *Request, res *Result, value any) {
	name := req.Node.Action.OutputVariable
	if name == "" {
		return
	}
	if res.Globals == nil {
		res.Globals = make(map[string]any)
	}
	res.Globals[name] = value
}

// finishAction применяет общие флаги action узла.
func finishAction(req *Request, res *Result) *Result {
	if req.Node.Action.Terminal {
		res.Terminal = true
	}
	return res
}

// wildcard проверяет, что значение означает "любое" и не должно ограничивать запрос.
func wildcard(v any) bool {
	return domain.PresenceOf(v) != domain.Present
}
