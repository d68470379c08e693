package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/port"
)

func TestMemory_WithinTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	m.UpsertProduct(ctx, domain.Product{ID: "p1", TenantID: "t1", Price: decimal.NewFromInt(1), Inventory: 5, IsActive: true})

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Repository) error {
		if ok, _ := tx.DecrementStock(ctx, "t1", "p1", 5); !ok {
			t.Fatal("decrement in tx failed")
		}
		if _, err := tx.NextOrderSequence(ctx, "t1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := m.GetProduct(ctx, "t1", "p1")
	if p.Inventory != 5 {
		t.Errorf("expected rollback to keep stock 5, got %d", p.Inventory)
	}

	err = m.WithinTx(ctx, func(ctx context.Context, tx port.Repository) error {
		_, err := tx.DecrementStock(ctx, "t1", "p1", 2)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ = m.GetProduct(ctx, "t1", "p1")
	if p.Inventory != 3 {
		t.Errorf("expected committed stock 3, got %d", p.Inventory)
	}

	seq, _ := m.NextOrderSequence(ctx, "t1")
	if seq != 1 {
		t.Errorf("expected rolled back sequence to restart at 1, got %d", seq)
	}
}

func TestMemory_WithinTx_CancelledContext(t *testing.T) {
	m := NewMemoryAdapter()
	ctx, cancel := context.WithCancel(context.Background())

	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Repository) error {
		_, err := tx.NextOrderSequence(ctx, "t1")
		cancel()
		return err
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	seq, _ := m.NextOrderSequence(context.Background(), "t1")
	if seq != 1 {
		t.Errorf("expected cancelled tx to be discarded, got sequence %d", seq)
	}
}

func TestMemory_CartsAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	cart := domain.Cart{TenantID: "t1", UserID: "u1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 1, AppliedRules: []string{"r1"}}}}
	m.SaveCart(ctx, cart)
	cart.Items[0].Quantity = 99
	cart.Items[0].AppliedRules[0] = "mutated"

	got, _ := m.GetCart(ctx, "t1", "u1")
	if got.Items[0].Quantity != 1 || got.Items[0].AppliedRules[0] != "r1" {
		t.Errorf("stored cart shares memory with caller: %+v", got.Items[0])
	}

	got.Items[0].Quantity = 42
	again, _ := m.GetCart(ctx, "t1", "u1")
	if again.Items[0].Quantity != 1 {
		t.Error("returned cart shares memory with the store")
	}
}

func TestMemory_RulesByTenantAndPriority(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	flat := domain.FlatDiscount{Off: decimal.NewFromInt(1)}

	m.UpsertRule(ctx, domain.PricingRule{ID: "b", TenantID: "t1", Discount: flat, Priority: 1, IsActive: true})
	m.UpsertRule(ctx, domain.PricingRule{ID: "a", TenantID: "t1", Discount: flat, Priority: 1, IsActive: true})
	m.UpsertRule(ctx, domain.PricingRule{ID: "z", TenantID: "t1", Discount: flat, Priority: 9, IsActive: true, ProductID: "p1"})
	m.UpsertRule(ctx, domain.PricingRule{ID: "x", TenantID: "t1", Discount: flat, IsActive: true, ProductID: "p2"})
	m.UpsertRule(ctx, domain.PricingRule{ID: "y", TenantID: "t2", Discount: flat, IsActive: true})
	m.UpsertRule(ctx, domain.PricingRule{ID: "off", TenantID: "t1", Discount: flat, IsActive: false})

	rules, _ := m.ListActiveRules(ctx, "t1", "p1")
	var ids []string
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "z" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("expected [z a b], got %v", ids)
	}
}

func TestMemory_OrderNumbersUniquePerTenant(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	now := time.Now()

	first := domain.Order{ID: "o1", TenantID: "t1", OrderNumber: "ORD-2603-000001", CreatedAt: now}
	if err := m.CreateOrder(ctx, first); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	dup := domain.Order{ID: "o2", TenantID: "t1", OrderNumber: "ORD-2603-000001", CreatedAt: now}
	if err := m.CreateOrder(ctx, dup); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("expected ErrDuplicateOrder, got %v", err)
	}

	otherTenant := domain.Order{ID: "o2", TenantID: "t2", OrderNumber: "ORD-2603-000001", CreatedAt: now}
	if err := m.CreateOrder(ctx, otherTenant); err != nil {
		t.Errorf("same number in another tenant should be allowed: %v", err)
	}

	if err := m.UpdateOrderStatus(ctx, "t1", "missing", domain.OrderStatusConfirmed, now); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
