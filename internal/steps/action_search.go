package steps

import (
	"context"
	"strings"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

const defaultSearchLimit = 5

// SearchAction — поиск в каталоге тенанта.
//
// Params:
//
//	{
//	    "query": "{{title}}",
//	    "filters": {"editor": "{{editor}}", "edition": "{{edition}}"},
//	    "limit": 5
//	}
//
// Фильтры со значением Any (или отсутствующие) не передаются: пользователь
// согласен на любое значение.
//
// Outputs:
//
//	{"results": [...], "count": 3, "first": {...}}
type SearchAction struct {
	service SearchService
}

// NewSearchAction создаёт SearchAction.
func NewSearchAction(service SearchService) *SearchAction {
	return &SearchAction{service: service}
}

// Type возвращает тип исполнителя.
func (a *SearchAction) Type() string {
	return string(domain.ActionSearch)
}

// RetrySafe — поиск только читает.
func (a *SearchAction) RetrySafe() bool { return true }

// Execute выполняет поиск.
func (a *SearchAction) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrNodeCancelled
	}
	if a.service == nil {
		return nil, ErrInvalidConfig
	}

	params, err := actionParams(req)
	if err != nil {
		return nil, err
	}

	q := &SearchQuery{
		TenantID: req.TenantID,
		Limit:    GetConfigInt(params, "limit"),
		Filters:  make(map[string]any),
	}
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}
	if v, ok := params["query"]; ok && !wildcard(v) {
		q.Query = strings.TrimSpace(engine.Stringify(v))
	}
	for k, v := range GetConfigMap(params, "filters") {
		if wildcard(v) {
			continue
		}
		q.Filters[k] = v
	}

	callCtx, cancel := actionContext(ctx, req)
	defer cancel()

	results, err := a.service.Search(callCtx, q)
	if err != nil {
		return nil, wrapCallErr(callCtx, "search", err)
	}
	if results == nil {
		results = []any{}
	}
	results = domain.Normalize(results).([]any)

	outputs := map[string]any{
		"results": results,
		"count":   float64(len(results)),
		"query":   q.Query,
	}
	if len(results) > 0 {
		outputs["first"] = results[0]
	}

	res := NewResult(outputs)
	setOutputVariable(req, res, results)
	return finishAction(req, res), nil
}
