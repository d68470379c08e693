package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrInvalidAddress         = errors.New("invalid shipping address")
	ErrInvalidStatus          = errors.New("invalid order status")
	ErrProductNotFound        = errors.New("product not found")
	ErrProductUnavailable     = errors.New("product unavailable")
	ErrCartNotFound           = errors.New("cart not found")
	ErrItemNotFound           = errors.New("item not found in cart")
	ErrOrderNotFound          = errors.New("order not found")
	ErrEmptyCart              = errors.New("cart is empty, nothing to checkout")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrPricingConflict        = errors.New("cart prices changed")
	ErrConcurrentModification = errors.New("inventory changed concurrently")
	ErrIllegalTransition      = errors.New("illegal transition of order status")
)

type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type PriceChange struct {
	ProductID     string          `json:"product_id"`
	OldBasePrice  decimal.Decimal `json:"old_base_price"`
	NewBasePrice  decimal.Decimal `json:"new_base_price"`
	OldFinalPrice decimal.Decimal `json:"old_final_price"`
	NewFinalPrice decimal.Decimal `json:"new_final_price"`
}

// PricingConflictError is returned after the cart was refreshed with the
// current prices. The caller should show the cart again and retry.
type PricingConflictError struct {
	Changes []PriceChange
}

func (e *PricingConflictError) Error() string {
	ids := make([]string, len(e.Changes))
	for i, c := range e.Changes {
		ids[i] = c.ProductID
	}
	return fmt.Sprintf("cart prices changed for %s, review the cart and retry", strings.Join(ids, ", "))
}

func (e *PricingConflictError) Is(target error) bool {
	return target == ErrPricingConflict
}
