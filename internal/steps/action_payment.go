package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

// PaymentAction — создание платёжной ссылки.
//
// Params:
//
//	{
//	    "amount": "{{cart.total}}",     // по умолчанию — итог корзины
//	    "currency": "MXN",
//	    "description": "Pedido {{endUser}}",
//	    "cartVariable": "cart"
//	}
//
// Ссылка создаётся с ключом идемпотентности узла. Результат записывается в
// журнал эффектов: повторный запуск узла возвращает ту же ссылку.
//
// Outputs:
//
//	{"url": "https://pay/...", "id": "pl_1", "amount": 59.7}
type PaymentAction struct {
	service PaymentService
	ledger  EffectLedger
}

// NewPaymentAction создаёт PaymentAction.
func NewPaymentAction(service PaymentService, ledger EffectLedger) *PaymentAction {
	return &PaymentAction{service: service, ledger: ledger}
}

// Type возвращает тип исполнителя.
func (a *PaymentAction) Type() string {
	return string(domain.ActionPayment)
}

// RetrySafe — повтор идёт с тем же ключом идемпотентности.
func (a *PaymentAction) RetrySafe() bool { return true }

// Execute создаёт платёжную ссылку.
func (a *PaymentAction) Execute(ctx context.Context, req *Request) (*Result, error) {
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

	if recorded, ok := recordedEffect(ctx, a.ledger, req.IdempotencyKey); ok {
		return a.result(req, recorded), nil
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

	amount, ok := GetConfigFloat(params, "amount")
	if !ok {
		amount = cart.Total
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrInvalidConfig)
	}

	callCtx, cancel := actionContext(ctx, req)
	defer cancel()

	link, err := a.service.CreateLink(callCtx, &PaymentRequest{
		TenantID:       req.TenantID,
		EndUserID:      req.EndUserID,
		Amount:         amount,
		Currency:       GetConfigString(params, "currency"),
		Description:    engine.Stringify(params["description"]),
		Items:          cart.Items,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, wrapCallErr(callCtx, "create payment link", err)
	}

	outputs := map[string]any{
		"url":    link.URL,
		"id":     link.ID,
		"amount": amount,
	}
	recordEffect(ctx, a.ledger, req.IdempotencyKey, EffectPayment, outputs)

	return a.result(req, outputs), nil
}

func (a *PaymentAction) result(req *Request, outputs map[string]any) *Result {
	res := NewResult(outputs)
	setOutputVariable(req, res, outputs["url"])
	return finishAction(req, res)
}
