package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog read-model checkout prices against. Only the
// inventory guard writes to it (stock decrement and restore).
type Product struct {
	ID          string
	TenantID    string
	SKU         string
	Name        string
	Description string
	ImageURL    string
	Category    string
	Price       decimal.Decimal
	Inventory   int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
