package domain

import (
	"errors"
	"testing"
)

func TestApplyCartOp_AddIsIdempotent(t *testing.T) {
	item := CartItem{ProductID: "b-1", Title: "Book X", Price: 12.5, Quantity: 2}

	cart, err := ApplyCartOp(NewCart(nil), CartOp{Op: CartAdd, Item: item})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Повтор того же add не меняет корзину
	again, err := ApplyCartOp(cart, CartOp{Op: CartAdd, Item: item})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(again.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(again.Items))
	}
	if again.Total != 25 {
		t.Errorf("expected total 25, got %v", again.Total)
	}
	if again.Count != 2 {
		t.Errorf("expected count 2, got %d", again.Count)
	}
}

func TestApplyCartOp_TotalsFromItems(t *testing.T) {
	cart := NewCart(nil)
	ops := []CartOp{
		{Op: CartAdd, Item: CartItem{ProductID: "a", Price: 0.1, Quantity: 3}},
		{Op: CartAdd, Item: CartItem{ProductID: "b", Price: 0.2, Quantity: 1}},
		{Op: CartUpdate, Item: CartItem{ProductID: "a", Quantity: 1}},
		{Op: CartAdd, Item: CartItem{ProductID: "c", Price: 5}},
		{Op: CartRemove, Item: CartItem{ProductID: "b"}},
	}

	var err error
	for _, op := range ops {
		cart, err = ApplyCartOp(cart, op)
		if err != nil {
			t.Fatalf("op %s: unexpected error: %v", op.Op, err)
		}
	}

	var total float64
	count := 0
	for _, it := range cart.Items {
		total += it.Price * float64(it.Quantity)
		count += it.Quantity
	}
	if cart.Total != 5.1 {
		t.Errorf("expected total 5.1, got %v (items sum %v)", cart.Total, total)
	}
	if cart.Count != count || count != 2 {
		t.Errorf("expected count 2, got %d", cart.Count)
	}
}

func TestApplyCartOp_Errors(t *testing.T) {
	tests := []struct {
		name    string
		op      CartOp
		wantErr error
	}{
		{"unknown op", CartOp{Op: "merge"}, ErrInvalidCartOp},
		{"add without product", CartOp{Op: CartAdd}, ErrInvalidCartOp},
		{"update missing item", CartOp{Op: CartUpdate, Item: CartItem{ProductID: "x", Quantity: 1}}, ErrCartItemNotFound},
		{"remove missing item", CartOp{Op: CartRemove, Item: CartItem{ProductID: "x"}}, ErrCartItemNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyCartOp(NewCart(nil), tt.op)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCartFromValue_RecomputesAggregates(t *testing.T) {
	// Агрегаты в сохранённом значении расходятся со строками
	stored := map[string]any{
		"items": []any{
			map[string]any{"productId": "a", "price": float64(10), "quantity": float64(2)},
			map[string]any{"productId": "b", "price": "2.5", "quantity": "4"},
		},
		"total": float64(999),
		"count": float64(1),
	}

	cart, err := CartFromValue(stored)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.Total != 30 {
		t.Errorf("expected total 30, got %v", cart.Total)
	}
	if cart.Count != 6 {
		t.Errorf("expected count 6, got %d", cart.Count)
	}

	value := cart.Value()
	if value["count"] != float64(6) {
		t.Errorf("unexpected count in value: %v", value["count"])
	}
}

func TestCartFromValue_Empty(t *testing.T) {
	for _, v := range []any{nil, Any} {
		cart, err := CartFromValue(v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cart.Items) != 0 || cart.Total != 0 {
			t.Errorf("expected empty cart for %v", v)
		}
	}
}

func TestCartItemFromValue(t *testing.T) {
	it, err := CartItemFromValue(map[string]any{
		"id":       float64(123),
		"title":    "Book X",
		"price":    "19.90",
		"quantity": float64(2),
		"editor":   "Planeta",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.ProductID != "123" || it.Price != 19.9 || it.Quantity != 2 || it.Title != "Book X" {
		t.Errorf("unexpected item: %+v", it)
	}

	if _, err := CartItemFromValue("Book X"); err == nil {
		t.Error("expected error for non-object item")
	}
}
