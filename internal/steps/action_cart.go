package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

// CartAction — изменение корзины пользователя. Чистая функция от scope,
// внешних эффектов нет.
//
// Params:
//
//	{
//	    "op": "add",                                       // add, update, remove, clear
//	    "item": "{{search.results[{{selectedIndex}} - 1]}}",
//	    "productId": "...", "title": "...", "price": 19.9, // вместо item
//	    "quantity": "{{qty}}",
//	    "cartVariable": "cart"
//	}
//
// Итог и количество всегда вычисляются из строк корзины.
//
// Outputs:
//
//	{"cart": {...}, "total": 59.7, "count": 3}
type CartAction struct{}

// NewCartAction создаёт CartAction.
func NewCartAction() *CartAction {
	return &CartAction{}
}

// Type возвращает тип исполнителя.
func (a *CartAction) Type() string {
	return string(domain.ActionCart)
}

// RetrySafe — add устанавливает количество, повтор даёт ту же корзину.
func (a *CartAction) RetrySafe() bool { return true }

// Execute применяет операцию к корзине.
func (a *CartAction) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrNodeCancelled
	}

	params, err := actionParams(req)
	if err != nil {
		return nil, err
	}

	cartVar := GetConfigString(params, "cartVariable")
	if cartVar == "" {
		cartVar = "cart"
	}
	raw, _ := req.Scope.Global(cartVar)
	cart, err := domain.CartFromValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	op, err := cartOpFromParams(params)
	if err != nil {
		return nil, err
	}

	next, err := domain.ApplyCartOp(cart, op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	value := next.Value()
	res := NewResult(map[string]any{
		"cart":  value,
		"total": next.Total,
		"count": float64(next.Count),
		"op":    op.Op,
	})
	res.Globals = map[string]any{cartVar: value}
	if name := req.Node.Action.OutputVariable; name != "" && name != cartVar {
		res.Globals[name] = value
	}
	return finishAction(req, res), nil
}

// cartOpFromParams собирает операцию из параметров узла.
func cartOpFromParams(params map[string]any) (domain.CartOp, error) {
	op := domain.CartOp{Op: GetConfigString(params, "op")}
	if op.Op == "" {
		op.Op = domain.CartAdd
	}
	if op.Op == domain.CartClear {
		return op, nil
	}

	if raw, ok := params["item"]; ok && raw != nil {
		item, err := domain.CartItemFromValue(raw)
		if err != nil {
			return op, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		op.Item = item
	}

	if v, ok := params["productId"]; ok && !wildcard(v) {
		op.Item.ProductID = engine.Stringify(v)
	}
	if v, ok := params["title"]; ok && !wildcard(v) {
		op.Item.Title = engine.Stringify(v)
	}
	if price, ok := GetConfigFloat(params, "price"); ok {
		op.Item.Price = price
	}
	if _, ok := params["quantity"]; ok {
		q, ok := GetConfigFloat(params, "quantity")
		if !ok {
			return op, fmt.Errorf("%w: quantity must be a number", ErrInvalidConfig)
		}
		op.Item.Quantity = int(q)
	}
	return op, nil
}
