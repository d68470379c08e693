package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type DiscountKind string

const (
	DiscountPercentage     DiscountKind = "PERCENTAGE"
	DiscountFlat           DiscountKind = "FLAT"
	DiscountInventoryBased DiscountKind = "INVENTORY_BASED"
)

var (
	ErrUnknownDiscountKind = errors.New("unknown discount kind")
	ErrNegativeDiscount    = errors.New("discount value must not be negative")
)

var hundred = decimal.NewFromInt(100)

// Discount is a closed set of discount variants. Each variant computes its
// own contribution for a line whose undiscounted total is original.
type Discount interface {
	Kind() DiscountKind
	Value() decimal.Decimal
	Amount(original decimal.Decimal, cond RuleConditions) decimal.Decimal
	isDiscount()
}

type PercentageDiscount struct {
	Percent decimal.Decimal
}

func (d PercentageDiscount) Kind() DiscountKind     { return DiscountPercentage }
func (d PercentageDiscount) Value() decimal.Decimal { return d.Percent }
func (PercentageDiscount) isDiscount()              {}

func (d PercentageDiscount) Amount(original decimal.Decimal, _ RuleConditions) decimal.Decimal {
	return original.Mul(d.Percent).Div(hundred)
}

// FlatDiscount takes a fixed amount off the whole line regardless of quantity.
type FlatDiscount struct {
	Off decimal.Decimal
}

func (d FlatDiscount) Kind() DiscountKind     { return DiscountFlat }
func (d FlatDiscount) Value() decimal.Decimal { return d.Off }
func (FlatDiscount) isDiscount()              {}

func (d FlatDiscount) Amount(_ decimal.Decimal, _ RuleConditions) decimal.Decimal {
	return d.Off
}

// InventoryBasedDiscount is a percentage that only counts when the rule is
// gated on a minimum inventory level.
type InventoryBasedDiscount struct {
	Percent decimal.Decimal
}

func (d InventoryBasedDiscount) Kind() DiscountKind     { return DiscountInventoryBased }
func (d InventoryBasedDiscount) Value() decimal.Decimal { return d.Percent }
func (InventoryBasedDiscount) isDiscount()              {}

func (d InventoryBasedDiscount) Amount(original decimal.Decimal, cond RuleConditions) decimal.Decimal {
	if cond.MinInventory == nil {
		return decimal.Zero
	}
	return original.Mul(d.Percent).Div(hundred)
}

// NewDiscount decodes the persisted (kind, value) pair of a rule.
func NewDiscount(kind DiscountKind, value decimal.Decimal) (Discount, error) {
	if value.IsNegative() {
		return nil, ErrNegativeDiscount
	}
	switch kind {
	case DiscountPercentage:
		return PercentageDiscount{Percent: value}, nil
	case DiscountFlat:
		return FlatDiscount{Off: value}, nil
	case DiscountInventoryBased:
		return InventoryBasedDiscount{Percent: value}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiscountKind, kind)
	}
}

// RuleConditions are optional inclusive bounds. A nil bound always holds.
type RuleConditions struct {
	MinInventory *int
	MaxInventory *int
	MinQuantity  *int
	MaxQuantity  *int
}

func (c RuleConditions) Satisfied(quantity, inventory int) bool {
	if c.MinInventory != nil && inventory < *c.MinInventory {
		return false
	}
	if c.MaxInventory != nil && inventory > *c.MaxInventory {
		return false
	}
	if c.MinQuantity != nil && quantity < *c.MinQuantity {
		return false
	}
	if c.MaxQuantity != nil && quantity > *c.MaxQuantity {
		return false
	}
	return true
}

type PricingRule struct {
	ID         string
	TenantID   string
	Name       string
	ProductID  string // empty applies to every product of the tenant
	Discount   Discount
	Conditions RuleConditions
	IsActive   bool
	Priority   int
}

// AppliesTo reports whether the rule targets productID, either directly or
// as a tenant-wide rule.
func (r PricingRule) AppliesTo(productID string) bool {
	return r.ProductID == "" || r.ProductID == productID
}
