package port

import (
	"context"
	"time"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
)

// Lookups return (nil, nil) when the row does not exist. Every method is
// scoped by tenant.

type ProductRepository interface {
	GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error)
}

type RuleRepository interface {
	// ListActiveRules returns active rules that target productID or the whole tenant
	ListActiveRules(ctx context.Context, tenantID, productID string) ([]domain.PricingRule, error)
}

type CartRepository interface {
	GetCart(ctx context.Context, tenantID, userID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) error
}

type OrderRepository interface {
	// NextOrderSequence atomically advances the tenant's order counter
	NextOrderSequence(ctx context.Context, tenantID string) (int64, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, tenantID, userID string, filter domain.OrderFilter) ([]domain.Order, int, error)
	UpdateOrderStatus(ctx context.Context, tenantID, orderID string, status domain.OrderStatus, updatedAt time.Time) error
}

type InventoryRepository interface {
	// DecrementStock decreases inventory only if enough is left, returns false otherwise
	DecrementStock(ctx context.Context, tenantID, productID string, quantity int) (bool, error)

	// IncrementStock restores inventory, returns false if the product does not exist
	IncrementStock(ctx context.Context, tenantID, productID string, quantity int) (bool, error)
}

type Repository interface {
	ProductRepository
	RuleRepository
	CartRepository
	OrderRepository
	InventoryRepository
}

type DatabaseRepository interface {
	Repository

	// WithinTx runs fn in one transaction. Writes made through tx are
	// committed when fn returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
