package steps

import (
	"context"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// RouterExecutor выбирает маршрут: первый маршрут с истинным условием.
// Если ни один не подошёл, применяется fallback узла:
//   - first — первое исходящее ребро в порядке объявления;
//   - default — defaultHandle;
//   - none — маршрут не выбран, run завершается.
//
// Некорректное условие считается ложным, логируется и учитывается в метриках.
//
// Outputs:
//
//	{"route": "search", "matched": true, "conditionErrors": 0}
type RouterExecutor struct{}

// NewRouterExecutor создаёт RouterExecutor.
func NewRouterExecutor() *RouterExecutor {
	return &RouterExecutor{}
}

// Type возвращает тип исполнителя.
func (e *RouterExecutor) Type() string {
	return string(domain.NodeKindRouter)
}

// RetrySafe — router не имеет внешних эффектов.
func (e *RouterExecutor) RetrySafe() bool { return true }

// Execute исполняет router узел.
func (e *RouterExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrNodeCancelled
	}

	logger := telemetry.FromContext(ctx)
	malformed := 0

	for _, route := range req.Node.Routes {
		if err := route.Condition.Err(); err != nil {
			malformed++
			telemetry.ConditionErrors.Inc()
			logger.Warn("malformed route condition",
				"node_id", req.Node.ID,
				"route", route.ID,
				"condition", route.Condition.Source(),
				"error", err,
			)
			continue
		}
		if route.Condition.Evaluate(req.Scope) {
			return routeResult(route.ID, true, malformed), nil
		}
	}

	handle := ""
	switch req.Node.Router.FallbackMode() {
	case domain.RouterFallbackFirst:
		if len(req.Outgoing) > 0 {
			handle = req.Outgoing[0].SourceHandle
		}
	case domain.RouterFallbackDefault:
		handle = req.Node.Router.DefaultHandle
	}

	if handle != "" {
		logger.Debug("no route matched, using fallback", "node_id", req.Node.ID, "handle", handle)
	}
	return routeResult(handle, false, malformed), nil
}

func routeResult(handle string, matched bool, malformed int) *Result {
	res := NewResult(map[string]any{
		"route":           handle,
		"matched":         matched,
		"conditionErrors": float64(malformed),
	})
	res.Handle = handle
	return res
}
