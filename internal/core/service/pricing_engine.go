package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/port"
)

// PriceBreakdown holds line totals for the whole quantity, not per-unit values.
type PriceBreakdown struct {
	OriginalPrice  decimal.Decimal
	FinalPrice     decimal.Decimal
	DiscountAmount decimal.Decimal
	AppliedRules   []string
}

type PricingEngine struct {
	rules port.RuleRepository
}

func NewPricingEngine(rules port.RuleRepository) *PricingEngine {
	return &PricingEngine{rules: rules}
}

func (e *PricingEngine) CalculatePrice(ctx context.Context, tenantID, productID string, quantity int, basePrice decimal.Decimal, inventory int) (PriceBreakdown, error) {
	rules, err := e.rules.ListActiveRules(ctx, tenantID, productID)
	if err != nil {
		return PriceBreakdown{}, fmt.Errorf("list pricing rules: %w", err)
	}

	return Evaluate(rules, productID, quantity, basePrice, inventory), nil
}

// Evaluate prices one line against rules. Every applicable rule contributes,
// highest priority first, and the sum is clamped once so the price never
// goes below zero.
func Evaluate(rules []domain.PricingRule, productID string, quantity int, basePrice decimal.Decimal, inventory int) PriceBreakdown {
	original := basePrice.Mul(decimal.NewFromInt(int64(quantity)))

	applicable := make([]domain.PricingRule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive || r.Discount == nil || !r.AppliesTo(productID) {
			continue
		}
		if !r.Conditions.Satisfied(quantity, inventory) {
			continue
		}
		applicable = append(applicable, r)
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority > applicable[j].Priority
		}
		return applicable[i].ID < applicable[j].ID
	})

	total := decimal.Zero
	applied := []string{}
	for _, r := range applicable {
		amount := r.Discount.Amount(original, r.Conditions)
		if !amount.IsPositive() {
			continue
		}
		total = total.Add(amount)
		applied = append(applied, r.Name)
	}

	final := original.Sub(total)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return PriceBreakdown{
		OriginalPrice:  original,
		FinalPrice:     final,
		DiscountAmount: original.Sub(final),
		AppliedRules:   applied,
	}
}
