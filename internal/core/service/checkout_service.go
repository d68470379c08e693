package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/metrics"
	"github.com/rl1809/tenant-checkout/internal/port"
)

const revalidateConcurrency = 8

type CheckoutService struct {
	db      port.DatabaseRepository
	engine  *PricingEngine
	guard   *InventoryGuard
	cache   port.CacheRepository
	locker  port.MutationLocker
	metrics *metrics.Checkout
	now     func() time.Time
}

// NewCheckoutService wires the coordinator. cache and m may be nil.
func NewCheckoutService(db port.DatabaseRepository, engine *PricingEngine, guard *InventoryGuard, cache port.CacheRepository, locker port.MutationLocker, m *metrics.Checkout) *CheckoutService {
	if cache == nil {
		cache = noopCache{}
	}
	return &CheckoutService{
		db:      db,
		engine:  engine,
		guard:   guard,
		cache:   cache,
		locker:  locker,
		metrics: m,
		now:     time.Now,
	}
}

// CreateOrder turns the user's cart into an order. Stale prices are written
// back to the cart before the attempt fails with a *PricingConflictError, so
// an immediate retry goes through with the refreshed prices.
func (s *CheckoutService) CreateOrder(ctx context.Context, tenantID, userID string, addr domain.ShippingAddress) (*domain.Order, error) {
	start := time.Now()

	if field := addr.MissingField(); field != "" {
		err := fmt.Errorf("%w: %s is required", ErrInvalidAddress, field)
		s.metrics.Observe(outcome(err), time.Since(start))
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, cartKey(tenantID, userID))
	if err != nil {
		err = fmt.Errorf("acquire cart permit: %w", err)
		s.metrics.Observe(outcome(err), time.Since(start))
		return nil, err
	}
	defer release()

	order, err := s.createOrder(ctx, tenantID, userID, addr)
	s.metrics.Observe(outcome(err), time.Since(start))
	return order, err
}

func (s *CheckoutService) createOrder(ctx context.Context, tenantID, userID string, addr domain.ShippingAddress) (*domain.Order, error) {
	cart, err := s.db.GetCart(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil || !cart.IsActive() || len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	if err := s.revalidate(ctx, cart); err != nil {
		return nil, err
	}

	var order domain.Order
	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Repository) error {
		cart, err := tx.GetCart(ctx, tenantID, userID)
		if err != nil {
			return fmt.Errorf("get cart: %w", err)
		}
		if cart == nil || !cart.IsActive() || len(cart.Items) == 0 {
			return ErrEmptyCart
		}

		if err := s.guard.Check(ctx, tx, tenantID, cart.Items); err != nil {
			return err
		}

		seq, err := tx.NextOrderSequence(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("next order sequence: %w", err)
		}

		now := s.now()
		order = domain.NewOrderFromCart(uuid.New().String(), domain.FormatOrderNumber(now, seq), *cart, addr, now)
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if err := s.guard.Reserve(ctx, tx, tenantID, cart.Items); err != nil {
			return err
		}

		cart.Status = domain.CartStatusCheckedOut
		cart.UpdatedAt = now
		if err := tx.SaveCart(ctx, *cart); err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			log.Printf("checkout: %s/%s aborted: %v", tenantID, userID, err)
		}
		return nil, err
	}

	invalidateCart(s.cache, tenantID, userID)
	log.Printf("checkout: placed order %s (%s) for %s/%s, total %s", order.OrderNumber, order.ID, tenantID, userID, order.Total.StringFixed(2))
	return &order, nil
}

// revalidate reprices every line against the live catalog. Prices are
// compared at cent precision.
func (s *CheckoutService) revalidate(ctx context.Context, cart *domain.Cart) error {
	products := make([]*domain.Product, len(cart.Items))
	prices := make([]PriceBreakdown, len(cart.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revalidateConcurrency)
	for i, item := range cart.Items {
		i, item := i, item
		g.Go(func() error {
			p, err := s.db.GetProduct(gctx, cart.TenantID, item.ProductID)
			if err != nil {
				return fmt.Errorf("get product %s: %w", item.ProductID, err)
			}
			if p == nil || !p.IsActive {
				return fmt.Errorf("%w: %s", ErrProductUnavailable, item.ProductID)
			}
			price, err := s.engine.CalculatePrice(gctx, cart.TenantID, item.ProductID, item.Quantity, p.Price, p.Inventory)
			if err != nil {
				return err
			}
			products[i] = p
			prices[i] = price
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var changes []PriceChange
	for i := range cart.Items {
		item := &cart.Items[i]
		p := products[i]
		newFinal := prices[i].FinalPrice.Div(decimal.NewFromInt(int64(item.Quantity)))

		if item.BasePrice.Round(2).Equal(p.Price.Round(2)) && item.FinalPrice.Round(2).Equal(newFinal.Round(2)) {
			continue
		}

		changes = append(changes, PriceChange{
			ProductID:     item.ProductID,
			OldBasePrice:  item.BasePrice.Round(2),
			NewBasePrice:  p.Price.Round(2),
			OldFinalPrice: item.FinalPrice.Round(2),
			NewFinalPrice: newFinal.Round(2),
		})
		applyPrice(item, p.Price, item.Quantity, prices[i])
		item.Description = p.Description
		item.ImageURL = p.ImageURL
		item.Category = p.Category
	}
	if len(changes) == 0 {
		return nil
	}

	cart.Recalculate()
	cart.UpdatedAt = s.now()
	if err := s.db.SaveCart(ctx, *cart); err != nil {
		return fmt.Errorf("save repriced cart: %w", err)
	}
	invalidateCart(s.cache, cart.TenantID, cart.UserID)

	log.Printf("checkout: %d price change(s) in cart %s for %s/%s", len(changes), cart.ID, cart.TenantID, cart.UserID)
	return &PricingConflictError{Changes: changes}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomePlaced
	case errors.Is(err, ErrPricingConflict):
		return metrics.OutcomePricingConflict
	case errors.Is(err, ErrEmptyCart):
		return metrics.OutcomeEmptyCart
	case errors.Is(err, ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock
	case errors.Is(err, ErrProductUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, ErrConcurrentModification):
		return metrics.OutcomeRace
	case errors.Is(err, ErrInvalidAddress):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
