package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/port"
)

type tenantKey struct {
	tenantID string
	id       string
}

type memState struct {
	products  map[tenantKey]domain.Product
	rules     map[tenantKey]domain.PricingRule
	carts     map[tenantKey]domain.Cart // keyed by user id
	orders    map[tenantKey]domain.Order
	sequences map[string]int64
}

func newMemState() *memState {
	return &memState{
		products:  make(map[tenantKey]domain.Product),
		rules:     make(map[tenantKey]domain.PricingRule),
		carts:     make(map[tenantKey]domain.Cart),
		orders:    make(map[tenantKey]domain.Order),
		sequences: make(map[string]int64),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v.Clone()
	}
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

// MemoryAdapter keeps everything in process. Transactions run on a copy of
// the state that replaces the live state on commit, so they are atomic and
// serialized with every other call.
type MemoryAdapter struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{state: newMemState()}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryAdapter) view() *memTx {
	return &memTx{state: m.state}
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetProduct(ctx, tenantID, productID)
}

func (m *MemoryAdapter) ListActiveRules(ctx context.Context, tenantID, productID string) ([]domain.PricingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListActiveRules(ctx, tenantID, productID)
}

func (m *MemoryAdapter) GetCart(ctx context.Context, tenantID, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetCart(ctx, tenantID, userID)
}

func (m *MemoryAdapter) SaveCart(ctx context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveCart(ctx, cart)
}

func (m *MemoryAdapter) NextOrderSequence(ctx context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().NextOrderSequence(ctx, tenantID)
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateOrder(ctx, order)
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetOrder(ctx, tenantID, orderID)
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, tenantID, userID string, filter domain.OrderFilter) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListOrders(ctx, tenantID, userID, filter)
}

func (m *MemoryAdapter) UpdateOrderStatus(ctx context.Context, tenantID, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateOrderStatus(ctx, tenantID, orderID, status, updatedAt)
}

func (m *MemoryAdapter) DecrementStock(ctx context.Context, tenantID, productID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DecrementStock(ctx, tenantID, productID, quantity)
}

func (m *MemoryAdapter) IncrementStock(ctx context.Context, tenantID, productID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().IncrementStock(ctx, tenantID, productID, quantity)
}

// UpsertProduct stands in for the catalog service.
func (m *MemoryAdapter) UpsertProduct(_ context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[tenantKey{p.TenantID, p.ID}] = p
	return nil
}

// UpsertRule stands in for the rule management service.
func (m *MemoryAdapter) UpsertRule(_ context.Context, r domain.PricingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.rules[tenantKey{r.TenantID, r.ID}] = r
	return nil
}

// memTx works on a state without locking; the owner holds the lock.
type memTx struct {
	state *memState
}

func (t *memTx) GetProduct(_ context.Context, tenantID, productID string) (*domain.Product, error) {
	p, ok := t.state.products[tenantKey{tenantID, productID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memTx) ListActiveRules(_ context.Context, tenantID, productID string) ([]domain.PricingRule, error) {
	var rules []domain.PricingRule
	for k, r := range t.state.rules {
		if k.tenantID != tenantID || !r.IsActive || !r.AppliesTo(productID) {
			continue
		}
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

func (t *memTx) GetCart(_ context.Context, tenantID, userID string) (*domain.Cart, error) {
	c, ok := t.state.carts[tenantKey{tenantID, userID}]
	if !ok {
		return nil, nil
	}
	c = c.Clone()
	return &c, nil
}

func (t *memTx) SaveCart(_ context.Context, cart domain.Cart) error {
	t.state.carts[tenantKey{cart.TenantID, cart.UserID}] = cart.Clone()
	return nil
}

func (t *memTx) NextOrderSequence(_ context.Context, tenantID string) (int64, error) {
	t.state.sequences[tenantID]++
	return t.state.sequences[tenantID], nil
}

func (t *memTx) CreateOrder(_ context.Context, order domain.Order) error {
	key := tenantKey{order.TenantID, order.ID}
	if _, exists := t.state.orders[key]; exists {
		return ErrDuplicateOrder
	}
	for k, o := range t.state.orders {
		if k.tenantID == order.TenantID && o.OrderNumber == order.OrderNumber {
			return ErrDuplicateOrder
		}
	}
	t.state.orders[key] = order.Clone()
	return nil
}

func (t *memTx) GetOrder(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	o, ok := t.state.orders[tenantKey{tenantID, orderID}]
	if !ok {
		return nil, nil
	}
	o = o.Clone()
	return &o, nil
}

func (t *memTx) ListOrders(_ context.Context, tenantID, userID string, filter domain.OrderFilter) ([]domain.Order, int, error) {
	var matched []domain.Order
	for k, o := range t.state.orders {
		if k.tenantID != tenantID || o.UserID != userID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].OrderNumber > matched[j].OrderNumber
	})

	total := len(matched)
	offset := (filter.Page - 1) * filter.Limit
	if offset >= total {
		return []domain.Order{}, total, nil
	}
	end := offset + filter.Limit
	if end > total {
		end = total
	}

	page := make([]domain.Order, 0, end-offset)
	for _, o := range matched[offset:end] {
		page = append(page, o.Clone())
	}
	return page, total, nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, tenantID, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	key := tenantKey{tenantID, orderID}
	o, ok := t.state.orders[key]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	t.state.orders[key] = o
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, tenantID, productID string, quantity int) (bool, error) {
	key := tenantKey{tenantID, productID}
	p, ok := t.state.products[key]
	if !ok || p.Inventory < quantity {
		return false, nil
	}
	p.Inventory -= quantity
	t.state.products[key] = p
	return true, nil
}

func (t *memTx) IncrementStock(_ context.Context, tenantID, productID string, quantity int) (bool, error) {
	key := tenantKey{tenantID, productID}
	p, ok := t.state.products[key]
	if !ok {
		return false, nil
	}
	p.Inventory += quantity
	t.state.products[key] = p
	return true, nil
}
