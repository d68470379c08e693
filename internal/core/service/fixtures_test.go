package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/tenant-checkout/internal/adapter/storage"
	"github.com/rl1809/tenant-checkout/internal/core/domain"
)

var fixedNow = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

var testAddress = domain.ShippingAddress{
	FullName:   "Nguyen Van A",
	Street:     "12 Ly Thai To",
	City:       "Hanoi",
	State:      "HN",
	PostalCode: "100000",
	Country:    "VN",
}

type fixture struct {
	db       *storage.MemoryAdapter
	engine   *PricingEngine
	carts    *CartService
	checkout *CheckoutService
	orders   *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := storage.NewMemoryAdapter()
	locker := storage.NewKeyedLocker()
	engine := NewPricingEngine(db)
	guard := NewInventoryGuard()

	f := &fixture{
		db:       db,
		engine:   engine,
		carts:    NewCartService(db, engine, nil, locker),
		checkout: NewCheckoutService(db, engine, guard, nil, locker, nil),
		orders:   NewOrderService(db, guard),
	}
	clock := func() time.Time { return fixedNow }
	f.carts.now = clock
	f.checkout.now = clock
	f.orders.now = clock
	return f
}

func (f *fixture) addProduct(t *testing.T, tenantID, id, price string, inventory int) domain.Product {
	t.Helper()

	p := domain.Product{
		ID:          id,
		TenantID:    tenantID,
		SKU:         "SKU-" + id,
		Name:        "Product " + id,
		Description: "about " + id,
		Price:       decimal.RequireFromString(price),
		Inventory:   inventory,
		IsActive:    true,
	}
	require.NoError(t, f.db.UpsertProduct(context.Background(), p))
	return p
}

func (f *fixture) updateProduct(t *testing.T, tenantID, id string, mutate func(p *domain.Product)) {
	t.Helper()

	p, err := f.db.GetProduct(context.Background(), tenantID, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	mutate(p)
	require.NoError(t, f.db.UpsertProduct(context.Background(), *p))
}

func (f *fixture) addRule(t *testing.T, r domain.PricingRule) {
	t.Helper()
	require.NoError(t, f.db.UpsertRule(context.Background(), r))
}

func (f *fixture) inventory(t *testing.T, tenantID, id string) int {
	t.Helper()

	p, err := f.db.GetProduct(context.Background(), tenantID, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Inventory
}

func percentRule(tenantID, id, percent string, priority int) domain.PricingRule {
	return domain.PricingRule{
		ID:       id,
		TenantID: tenantID,
		Name:     id,
		Discount: domain.PercentageDiscount{Percent: decimal.RequireFromString(percent)},
		IsActive: true,
		Priority: priority,
	}
}

func flatRule(tenantID, id, off string, priority int) domain.PricingRule {
	return domain.PricingRule{
		ID:       id,
		TenantID: tenantID,
		Name:     id,
		Discount: domain.FlatDiscount{Off: decimal.RequireFromString(off)},
		IsActive: true,
		Priority: priority,
	}
}

func intp(v int) *int { return &v }

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}
