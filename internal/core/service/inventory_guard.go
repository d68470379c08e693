package service

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/port"
)

// InventoryGuard is the only writer of product stock. It runs against the
// repository it is handed so the writes join the caller's transaction.
type InventoryGuard struct{}

func NewInventoryGuard() *InventoryGuard {
	return &InventoryGuard{}
}

// Check verifies each line's product is active and has enough stock.
func (g *InventoryGuard) Check(ctx context.Context, repo port.ProductRepository, tenantID string, items []domain.CartItem) error {
	for _, item := range byProduct(items) {
		product, err := repo.GetProduct(ctx, tenantID, item.ProductID)
		if err != nil {
			return fmt.Errorf("get product %s: %w", item.ProductID, err)
		}
		if product == nil || !product.IsActive {
			return fmt.Errorf("%w: %s", ErrProductUnavailable, item.ProductID)
		}
		if product.Inventory < item.Quantity {
			return &InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Available: product.Inventory,
				Requested: item.Quantity,
			}
		}
	}
	return nil
}

// Reserve decrements stock for every line in product ID order, so two
// checkouts sharing products lock the rows in the same order. A conditional
// write that matches nothing means another checkout took the stock first.
func (g *InventoryGuard) Reserve(ctx context.Context, repo port.InventoryRepository, tenantID string, items []domain.CartItem) error {
	for _, item := range byProduct(items) {
		ok, err := repo.DecrementStock(ctx, tenantID, item.ProductID, item.Quantity)
		if err != nil {
			return fmt.Errorf("stock decrement failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: product %s", ErrConcurrentModification, item.ProductID)
		}
	}
	return nil
}

// Restore gives the stock of a cancelled order back.
func (g *InventoryGuard) Restore(ctx context.Context, repo port.InventoryRepository, tenantID string, items []domain.CartItem) error {
	for _, item := range byProduct(items) {
		ok, err := repo.IncrementStock(ctx, tenantID, item.ProductID, item.Quantity)
		if err != nil {
			return fmt.Errorf("stock restore failed: %w", err)
		}
		if !ok {
			log.Printf("inventory: restore skipped, product %s/%s no longer exists", tenantID, item.ProductID)
		}
	}
	return nil
}

func byProduct(items []domain.CartItem) []domain.CartItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b domain.CartItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}
