package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/tenant-checkout/internal/adapter/storage"
	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/metrics"
	"github.com/rl1809/tenant-checkout/internal/port"
)

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "100", 10)
	f.addProduct(t, "t1", "p2", "19.99", 5)
	f.addRule(t, percentRule("t1", "ten", "10", 0))

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "t1", "u1", "p2", 1)
	require.NoError(t, err)

	order, err := f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "ORD-2603-000001", order.OrderNumber)
	assert.Equal(t, domain.OrderStatusPlaced, order.Status)
	assert.Equal(t, testAddress, order.ShippingAddress)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.TotalItems)
	requireDecimal(t, "219.99", order.Subtotal)
	requireDecimal(t, "22", order.TotalDiscount)
	requireDecimal(t, "197.99", order.Total)
	assert.Equal(t, fixedNow, order.CreatedAt)

	assert.Equal(t, 8, f.inventory(t, "t1", "p1"))
	assert.Equal(t, 4, f.inventory(t, "t1", "p2"))

	stored, err := f.db.GetCart(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CartStatusCheckedOut, stored.Status)

	fetched, err := f.orders.GetOrder(ctx, "t1", "u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, fetched.OrderNumber)
}

func TestCreateOrder_SequentialNumbersPerTenant(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "5", 10)
	f.addProduct(t, "t2", "p1", "5", 10)

	ctx := context.Background()
	place := func(tenantID, userID string) string {
		t.Helper()
		_, err := f.carts.AddItem(ctx, tenantID, userID, "p1", 1)
		require.NoError(t, err)
		order, err := f.checkout.CreateOrder(ctx, tenantID, userID, testAddress)
		require.NoError(t, err)
		return order.OrderNumber
	}

	assert.Equal(t, "ORD-2603-000001", place("t1", "u1"))
	assert.Equal(t, "ORD-2603-000002", place("t1", "u2"))
	assert.Equal(t, "ORD-2603-000003", place("t1", "u1"))
	assert.Equal(t, "ORD-2603-000001", place("t2", "u1"))
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "5", 10)
	ctx := context.Background()

	_, err := f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)
	_, err = f.carts.RemoveItem(ctx, "t1", "u1", "p1")
	require.NoError(t, err)
	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)
	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)
	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	assert.ErrorIs(t, err, ErrEmptyCart, "a checked out cart cannot be ordered twice")
}

func TestCreateOrder_InvalidAddress(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "5", 10)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)

	addr := testAddress
	addr.PostalCode = ""
	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", addr)
	require.ErrorIs(t, err, ErrInvalidAddress)
	assert.Contains(t, err.Error(), "postal_code")

	assert.Equal(t, 10, f.inventory(t, "t1", "p1"))
	cart, err := f.db.GetCart(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsActive())
}

func TestCreateOrder_PriceChangedThenRetry(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "100", 10)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 2)
	require.NoError(t, err)

	f.updateProduct(t, "t1", "p1", func(p *domain.Product) {
		p.Price = decimal.NewFromInt(150)
		p.Description = "new look"
	})

	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.ErrorIs(t, err, ErrPricingConflict)

	var conflict *PricingConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Changes, 1)
	change := conflict.Changes[0]
	assert.Equal(t, "p1", change.ProductID)
	requireDecimal(t, "100", change.OldBasePrice)
	requireDecimal(t, "150", change.NewBasePrice)
	requireDecimal(t, "100", change.OldFinalPrice)
	requireDecimal(t, "150", change.NewFinalPrice)

	cart, err := f.carts.GetCart(ctx, "t1", "u1")
	require.NoError(t, err)
	requireDecimal(t, "150", cart.Items[0].BasePrice)
	requireDecimal(t, "150", cart.Items[0].FinalPrice)
	assert.Equal(t, "new look", cart.Items[0].Description)
	requireDecimal(t, "300", cart.Total)

	assert.Equal(t, 10, f.inventory(t, "t1", "p1"))
	_, pg, err := f.orders.ListOrders(ctx, "t1", "u1", domain.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, pg.Total)

	order, err := f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)
	requireDecimal(t, "300", order.Total)
	assert.Equal(t, "ORD-2603-000001", order.OrderNumber)
	assert.Equal(t, 8, f.inventory(t, "t1", "p1"))
}

func TestCreateOrder_NewRuleIsAConflict(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "100", 10)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)

	f.addRule(t, percentRule("t1", "flash", "10", 0))

	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	var conflict *PricingConflictError
	require.True(t, errors.As(err, &conflict))
	requireDecimal(t, "100", conflict.Changes[0].NewBasePrice)
	requireDecimal(t, "90", conflict.Changes[0].NewFinalPrice)

	order, err := f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)
	requireDecimal(t, "90", order.Total)
	assert.Equal(t, []string{"flash"}, order.Items[0].AppliedRules)
}

func TestCreateOrder_ProductUnavailable(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "100", 10)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)

	f.updateProduct(t, "t1", "p1", func(p *domain.Product) { p.IsActive = false })

	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	assert.ErrorIs(t, err, ErrProductUnavailable)
	assert.Equal(t, 10, f.inventory(t, "t1", "p1"))
}

func TestCreateOrder_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "10", 5)
	f.addProduct(t, "t1", "p2", "10", 5)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "t1", "u1", "p2", 3)
	require.NoError(t, err)

	f.updateProduct(t, "t1", "p2", func(p *domain.Product) { p.Inventory = 2 })

	_, err = f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)

	assert.Equal(t, 5, f.inventory(t, "t1", "p1"))
	assert.Equal(t, 2, f.inventory(t, "t1", "p2"))
	cart, err := f.db.GetCart(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsActive())
	assert.Len(t, cart.Items, 2)

	_, err = f.carts.UpdateItemQuantity(ctx, "t1", "u1", "p2", 2)
	require.NoError(t, err)
	order, err := f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2603-000001", order.OrderNumber, "failed attempt must not consume a sequence number")
}

// racyDB loses every conditional stock decrement, as if another checkout had
// taken the stock between the check and the write.
type racyDB struct {
	*storage.MemoryAdapter
}

func (r racyDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Repository) error) error {
	return r.MemoryAdapter.WithinTx(ctx, func(ctx context.Context, tx port.Repository) error {
		return fn(ctx, racyTx{tx})
	})
}

type racyTx struct {
	port.Repository
}

func (racyTx) DecrementStock(context.Context, string, string, int) (bool, error) {
	return false, nil
}

func TestCreateOrder_LostDecrementRollsBack(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "10", 5)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 2)
	require.NoError(t, err)

	racy := NewCheckoutService(racyDB{f.db}, f.engine, NewInventoryGuard(), nil, storage.NewKeyedLocker(), nil)
	racy.now = f.checkout.now

	_, err = racy.CreateOrder(ctx, "t1", "u1", testAddress)
	require.ErrorIs(t, err, ErrConcurrentModification)

	orders, pg, err := f.orders.ListOrders(ctx, "t1", "u1", domain.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, 0, pg.Total)
	assert.Equal(t, 5, f.inventory(t, "t1", "p1"))

	cart, err := f.db.GetCart(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsActive())

	order, err := f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2603-000001", order.OrderNumber)
}

func TestCreateOrder_NoOversell(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "hot", "10", 2)

	ctx := context.Background()
	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		_, err := f.carts.AddItem(ctx, "t1", u, "hot", 2)
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		placed  int
		failErr []error
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := f.checkout.CreateOrder(ctx, "t1", userID, testAddress)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				placed++
				return
			}
			failErr = append(failErr, err)
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
	for _, err := range failErr {
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 0, f.inventory(t, "t1", "hot"))
}

func TestCreateOrder_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "tenant-a", "p1", "10", 5)
	f.addProduct(t, "tenant-b", "p1", "999", 5)
	f.addRule(t, percentRule("tenant-b", "b-only", "50", 0))

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "tenant-a", "u1", "p1", 1)
	require.NoError(t, err)
	order, err := f.checkout.CreateOrder(ctx, "tenant-a", "u1", testAddress)
	require.NoError(t, err)
	requireDecimal(t, "10", order.Total)

	assert.Equal(t, 4, f.inventory(t, "tenant-a", "p1"))
	assert.Equal(t, 5, f.inventory(t, "tenant-b", "p1"))

	_, err = f.orders.GetOrder(ctx, "tenant-b", "u1", order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	orders, _, err := f.orders.ListOrders(ctx, "tenant-b", "u1", domain.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	cart, err := f.carts.GetCart(ctx, "tenant-b", "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCreateOrder_OrderIsASnapshot(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "10", 5)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 2)
	require.NoError(t, err)
	order, err := f.checkout.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)

	f.updateProduct(t, "t1", "p1", func(p *domain.Product) { p.Name = "Renamed" })
	f.addRule(t, percentRule("t1", "later", "50", 0))
	_, err = f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)

	fetched, err := f.orders.GetOrder(ctx, "t1", "u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Product p1", fetched.Items[0].Name)
	assert.Equal(t, 2, fetched.Items[0].Quantity)
	requireDecimal(t, "20", fetched.Total)
	assert.Empty(t, fetched.Items[0].AppliedRules)
}

func TestCreateOrder_RecordsOutcome(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "10", 5)

	reg := prometheus.NewRegistry()
	m := metrics.NewCheckout(reg)
	locker := storage.NewKeyedLocker()
	svc := NewCheckoutService(f.db, f.engine, NewInventoryGuard(), nil, locker, m)

	ctx := context.Background()
	_, err := svc.CreateOrder(ctx, "t1", "u1", testAddress)
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)
	_, err = svc.CreateOrder(ctx, "t1", "u1", testAddress)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues(metrics.OutcomeEmptyCart)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues(metrics.OutcomePlaced)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Attempts.WithLabelValues(metrics.OutcomeRace)))
}

func TestCreateOrder_PermitTimeout(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "t1", "p1", "10", 5)

	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "t1", "u1", "p1", 1)
	require.NoError(t, err)

	locker := storage.NewKeyedLocker()
	m := metrics.NewCheckout(prometheus.NewRegistry())
	svc := NewCheckoutService(f.db, f.engine, NewInventoryGuard(), nil, locker, m)

	release, err := locker.Acquire(ctx, cartKey("t1", "u1"))
	require.NoError(t, err)
	defer release()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = svc.CreateOrder(short, "t1", "u1", testAddress)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, f.inventory(t, "t1", "p1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues(metrics.OutcomeError)))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, metrics.OutcomePlaced},
		{&PricingConflictError{}, metrics.OutcomePricingConflict},
		{ErrEmptyCart, metrics.OutcomeEmptyCart},
		{&InsufficientStockError{ProductID: "p1"}, metrics.OutcomeInsufficientStock},
		{ErrProductUnavailable, metrics.OutcomeUnavailable},
		{ErrConcurrentModification, metrics.OutcomeRace},
		{ErrInvalidAddress, metrics.OutcomeInvalid},
		{errors.New("boom"), metrics.OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcome(tt.err))
	}
}
