package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/port"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type OrderService struct {
	db    port.DatabaseRepository
	guard *InventoryGuard
	now   func() time.Time
}

func NewOrderService(db port.DatabaseRepository, guard *InventoryGuard) *OrderService {
	return &OrderService{
		db:    db,
		guard: guard,
		now:   time.Now,
	}
}

func (s *OrderService) ListOrders(ctx context.Context, tenantID, userID string, filter domain.OrderFilter) ([]domain.Order, domain.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}

	orders, total, err := s.db.ListOrders(ctx, tenantID, userID, filter)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list orders: %w", err)
	}

	return orders, domain.Pagination{
		Page:       filter.Page,
		Limit:      filter.Limit,
		Total:      total,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	}, nil
}

// GetOrder only returns orders owned by userID.
func (s *OrderService) GetOrder(ctx context.Context, tenantID, userID, orderID string) (*domain.Order, error) {
	order, err := s.db.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil || order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// UpdateOrderStatus moves an order to status. Cancelling a PLACED order puts
// its stock back in the same transaction as the status change.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, tenantID, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var updated domain.Order
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx port.Repository) error {
		order, err := tx.GetOrder(ctx, tenantID, orderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status == status {
			updated = *order
			return nil
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, order.Status, status)
		}

		if status == domain.OrderStatusCancelled && order.Status == domain.OrderStatusPlaced {
			if err := s.guard.Restore(ctx, tx, tenantID, order.Items); err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.UpdateOrderStatus(ctx, tenantID, orderID, status, now); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		order.Status = status
		order.UpdatedAt = now
		updated = *order
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("orders: %s/%s is now %s", tenantID, updated.OrderNumber, status)
	return &updated, nil
}
