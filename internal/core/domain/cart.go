package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusActive     CartStatus = "ACTIVE"
	CartStatusCheckedOut CartStatus = "CHECKED_OUT"
)

type Cart struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	UserID        string          `json:"user_id"`
	Items         []CartItem      `json:"items"`
	TotalItems    int             `json:"total_items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	Total         decimal.Decimal `json:"total"`
	Status        CartStatus      `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CartItem keeps per-unit FinalPrice and DiscountAmount next to the line
// total in Subtotal.
type CartItem struct {
	ProductID      string          `json:"product_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	ImageURL       string          `json:"image_url,omitempty"`
	Category       string          `json:"category,omitempty"`
	Quantity       int             `json:"quantity"`
	BasePrice      decimal.Decimal `json:"base_price"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	AppliedRules   []string        `json:"applied_rules"`
	AddedAt        time.Time       `json:"added_at"`
}

func (c *Cart) IsActive() bool {
	return c.Status == CartStatusActive
}

func (c *Cart) FindItem(productID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) RemoveItemAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

// Reset empties the cart and makes it ACTIVE again.
func (c *Cart) Reset(now time.Time) {
	c.Items = []CartItem{}
	c.Status = CartStatusActive
	c.Recalculate()
	c.UpdatedAt = now
}

// Recalculate derives the aggregates from the current items.
func (c *Cart) Recalculate() {
	totalItems := 0
	subtotal := decimal.Zero
	discount := decimal.Zero
	total := decimal.Zero

	for _, item := range c.Items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		totalItems += item.Quantity
		subtotal = subtotal.Add(item.BasePrice.Mul(qty))
		discount = discount.Add(item.DiscountAmount.Mul(qty))
		total = total.Add(item.Subtotal)
	}

	c.TotalItems = totalItems
	c.Subtotal = subtotal.Round(2)
	c.TotalDiscount = discount.Round(2)
	c.Total = total.Round(2)
}

// Clone returns a deep copy; item slices and applied rule names are not shared.
func (c Cart) Clone() Cart {
	c.Items = cloneItems(c.Items)
	return c
}

func cloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	for i, item := range items {
		item.AppliedRules = append([]string(nil), item.AppliedRules...)
		out[i] = item
	}
	return out
}
