package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrInvalidCartOp — неизвестная операция с корзиной или неверные параметры.
	ErrInvalidCartOp = errors.New("invalid cart operation")

	// ErrCartItemNotFound — товар отсутствует в корзине.
	ErrCartItemNotFound = errors.New("cart item not found")
)

// CartItem — строка корзины.
type CartItem struct {
	ProductID string  `json:"productId" mapstructure:"productId"`
	Title     string  `json:"title,omitempty" mapstructure:"title"`
	Price     float64 `json:"price" mapstructure:"price"`
	Quantity  int     `json:"quantity" mapstructure:"quantity"`
}

// Cart — корзина пользователя.
//
// Total и Count всегда вычисляются из Items и никогда не ведутся отдельно.
type Cart struct {
	Items []CartItem `json:"items" mapstructure:"items"`
	Total float64    `json:"total" mapstructure:"total"`
	Count int        `json:"count" mapstructure:"count"`
}

// Операции с корзиной.
const (
	CartAdd    = "add"
	CartUpdate = "update"
	CartRemove = "remove"
	CartClear  = "clear"
)

// CartOp — операция с корзиной.
type CartOp struct {
	Op   string
	Item CartItem
}

// ApplyCartOp применяет операцию и возвращает новую корзину.
// Исходная корзина не изменяется.
//
// add — upsert по ProductID, устанавливает количество (повтор с тем же
// товаром даёт ту же корзину); update — меняет количество существующей
// строки (0 удаляет строку); remove — удаляет строку; clear — очищает.
func ApplyCartOp(cart Cart, op CartOp) (Cart, error) {
	items := make([]CartItem, len(cart.Items))
	copy(items, cart.Items)

	switch op.Op {
	case CartAdd:
		if op.Item.ProductID == "" {
			return cart, fmt.Errorf("%w: add requires productId", ErrInvalidCartOp)
		}
		if op.Item.Quantity <= 0 {
			op.Item.Quantity = 1
		}
		if i := findCartItem(items, op.Item.ProductID); i >= 0 {
			if op.Item.Title == "" {
				op.Item.Title = items[i].Title
			}
			items[i] = op.Item
		} else {
			items = append(items, op.Item)
		}

	case CartUpdate:
		i := findCartItem(items, op.Item.ProductID)
		if i < 0 {
			return cart, fmt.Errorf("%w: %s", ErrCartItemNotFound, op.Item.ProductID)
		}
		if op.Item.Quantity < 0 {
			return cart, fmt.Errorf("%w: negative quantity", ErrInvalidCartOp)
		}
		if op.Item.Quantity == 0 {
			items = append(items[:i], items[i+1:]...)
		} else {
			items[i].Quantity = op.Item.Quantity
			if op.Item.Price > 0 {
				items[i].Price = op.Item.Price
			}
		}

	case CartRemove:
		i := findCartItem(items, op.Item.ProductID)
		if i < 0 {
			return cart, fmt.Errorf("%w: %s", ErrCartItemNotFound, op.Item.ProductID)
		}
		items = append(items[:i], items[i+1:]...)

	case CartClear:
		items = nil

	default:
		return cart, fmt.Errorf("%w: %q", ErrInvalidCartOp, op.Op)
	}

	return NewCart(items), nil
}

// NewCart создаёт корзину и вычисляет агрегаты из строк.
func NewCart(items []CartItem) Cart {
	c := Cart{Items: items}
	if c.Items == nil {
		c.Items = []CartItem{}
	}
	var total float64
	for _, it := range c.Items {
		total += it.Price * float64(it.Quantity)
		c.Count += it.Quantity
	}
	c.Total = math.Round(total*100) / 100
	return c
}

func findCartItem(items []CartItem, productID string) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// CartFromValue декодирует корзину из значения scope.
// Сохранённые Total и Count игнорируются и пересчитываются.
func CartFromValue(v any) (Cart, error) {
	if v == nil || IsAny(v) {
		return NewCart(nil), nil
	}
	var c Cart
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Cart{}, err
	}
	if err := dec.Decode(v); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	return NewCart(c.Items), nil
}

// Value возвращает JSON-подобное представление корзины для scope.
func (c Cart) Value() map[string]any {
	items := make([]any, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, map[string]any{
			"productId": it.ProductID,
			"title":     it.Title,
			"price":     it.Price,
			"quantity":  float64(it.Quantity),
		})
	}
	return map[string]any{
		"items": items,
		"total": c.Total,
		"count": float64(c.Count),
	}
}

// CartItemFromValue декодирует строку корзины из значения scope
// (например, элемента результатов поиска). Поле "id" принимается как productId.
func CartItemFromValue(v any) (CartItem, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return CartItem{}, fmt.Errorf("%w: item must be an object", ErrInvalidCartOp)
	}
	var it CartItem
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &it,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return CartItem{}, err
	}
	if err := dec.Decode(m); err != nil {
		return CartItem{}, fmt.Errorf("decode cart item: %w", err)
	}
	if it.ProductID == "" {
		if id, ok := m["id"]; ok && id != nil {
			it.ProductID = fmt.Sprint(id)
		}
	}
	return it, nil
}
