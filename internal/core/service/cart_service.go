package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/port"
)

const cartLoadTimeout = 5 * time.Second

type CartService struct {
	repo   port.Repository
	engine *PricingEngine
	cache  port.CacheRepository
	locker port.MutationLocker
	sfg    singleflight.Group // coalesces concurrent reads of the same cart
	now    func() time.Time
}

// NewCartService wires the cart aggregate. cache may be nil.
func NewCartService(repo port.Repository, engine *PricingEngine, cache port.CacheRepository, locker port.MutationLocker) *CartService {
	if cache == nil {
		cache = noopCache{}
	}
	return &CartService{
		repo:   repo,
		engine: engine,
		cache:  cache,
		locker: locker,
		now:    time.Now,
	}
}

// GetCart never writes the cart. A missing or checked-out cart is returned
// as an empty ACTIVE cart; Reclaim persists that state.
func (s *CartService) GetCart(ctx context.Context, tenantID, userID string) (*domain.Cart, error) {
	stored, err := s.load(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return s.emptyCart(tenantID, userID), nil
	}

	view := stored.Clone()
	if !view.IsActive() {
		view.Reset(view.UpdatedAt)
	}
	return &view, nil
}

// load returns the stored cart, from cache when possible. Concurrent loads of
// one cart share a single lookup that is detached from any caller's deadline.
// A cache miss is filled while holding the cart permit, so a fill can never
// land after a newer save has invalidated the entry.
func (s *CartService) load(ctx context.Context, tenantID, userID string) (*domain.Cart, error) {
	key := cartKey(tenantID, userID)
	ch := s.sfg.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cartLoadTimeout)
		defer cancel()

		cart, err := s.cache.GetCart(ctx, tenantID, userID)
		if err != nil {
			log.Printf("cart: cache get error: %v", err)
		}
		if cart != nil {
			return cart, nil
		}

		release, err := s.locker.Acquire(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("acquire cart permit: %w", err)
		}
		defer release()

		cart, err = s.repo.GetCart(ctx, tenantID, userID)
		if err != nil {
			return nil, fmt.Errorf("get cart: %w", err)
		}
		if cart != nil {
			if err := s.cache.SetCart(ctx, *cart); err != nil {
				log.Printf("cart: cache set error: %v", err)
			}
		}
		return cart, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cart, _ := res.Val.(*domain.Cart)
		if cart == nil {
			return nil, nil
		}
		c := cart.Clone()
		return &c, nil
	}
}

// Reclaim makes sure the user has a persisted ACTIVE cart: it creates one on
// first use and empties a checked-out cart. Calling it again is a no-op.
func (s *CartService) Reclaim(ctx context.Context, tenantID, userID string) (*domain.Cart, error) {
	stored, err := s.load(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.IsActive() {
		return stored, nil
	}

	release, err := s.locker.Acquire(ctx, cartKey(tenantID, userID))
	if err != nil {
		return nil, fmt.Errorf("acquire cart permit: %w", err)
	}
	defer release()

	return s.reclaim(ctx, tenantID, userID)
}

func (s *CartService) reclaim(ctx context.Context, tenantID, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	switch {
	case cart == nil:
		cart = s.emptyCart(tenantID, userID)
		cart.ID = uuid.New().String()
	case !cart.IsActive():
		log.Printf("cart: reclaiming checked out cart %s for %s/%s", cart.ID, tenantID, userID)
		cart.Reset(s.now())
	default:
		return cart, nil
	}

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) AddItem(ctx context.Context, tenantID, userID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	release, err := s.locker.Acquire(ctx, cartKey(tenantID, userID))
	if err != nil {
		return nil, fmt.Errorf("acquire cart permit: %w", err)
	}
	defer release()

	product, err := s.activeProduct(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	if quantity > product.Inventory {
		return nil, insufficient(product, quantity)
	}

	cart, err := s.reclaim(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	idx, found := cart.FindItem(productID)
	total := quantity
	if found {
		total += cart.Items[idx].Quantity
	}
	if total > product.Inventory {
		return nil, insufficient(product, total)
	}

	price, err := s.engine.CalculatePrice(ctx, tenantID, productID, total, product.Price, product.Inventory)
	if err != nil {
		return nil, err
	}

	if !found {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, AddedAt: s.now()})
		idx = len(cart.Items) - 1
	}
	item := &cart.Items[idx]
	syncProductInfo(item, product)
	applyPrice(item, product.Price, total, price)

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) UpdateItemQuantity(ctx context.Context, tenantID, userID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	release, err := s.locker.Acquire(ctx, cartKey(tenantID, userID))
	if err != nil {
		return nil, fmt.Errorf("acquire cart permit: %w", err)
	}
	defer release()

	cart, idx, err := s.findItem(ctx, tenantID, userID, productID)
	if err != nil {
		return nil, err
	}

	product, err := s.activeProduct(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	if quantity > product.Inventory {
		return nil, insufficient(product, quantity)
	}

	price, err := s.engine.CalculatePrice(ctx, tenantID, productID, quantity, product.Price, product.Inventory)
	if err != nil {
		return nil, err
	}

	item := &cart.Items[idx]
	syncProductInfo(item, product)
	applyPrice(item, product.Price, quantity, price)

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, tenantID, userID, productID string) (*domain.Cart, error) {
	release, err := s.locker.Acquire(ctx, cartKey(tenantID, userID))
	if err != nil {
		return nil, fmt.Errorf("acquire cart permit: %w", err)
	}
	defer release()

	cart, idx, err := s.findItem(ctx, tenantID, userID, productID)
	if err != nil {
		return nil, err
	}

	cart.RemoveItemAt(idx)
	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// ClearCart empties the cart. A missing or already empty cart is not an error.
func (s *CartService) ClearCart(ctx context.Context, tenantID, userID string) error {
	release, err := s.locker.Acquire(ctx, cartKey(tenantID, userID))
	if err != nil {
		return fmt.Errorf("acquire cart permit: %w", err)
	}
	defer release()

	cart, err := s.repo.GetCart(ctx, tenantID, userID)
	if err != nil {
		return fmt.Errorf("get cart: %w", err)
	}
	if cart == nil || (cart.IsActive() && len(cart.Items) == 0) {
		return nil
	}

	cart.Reset(s.now())
	return s.save(ctx, cart)
}

func (s *CartService) findItem(ctx context.Context, tenantID, userID, productID string) (*domain.Cart, int, error) {
	cart, err := s.repo.GetCart(ctx, tenantID, userID)
	if err != nil {
		return nil, -1, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil, -1, ErrCartNotFound
	}
	if !cart.IsActive() {
		return nil, -1, ErrItemNotFound
	}
	idx, ok := cart.FindItem(productID)
	if !ok {
		return nil, -1, ErrItemNotFound
	}
	return cart, idx, nil
}

func (s *CartService) activeProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	if !product.IsActive {
		return nil, ErrProductUnavailable
	}
	return product, nil
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	cart.Recalculate()
	cart.UpdatedAt = s.now()
	if err := s.repo.SaveCart(ctx, *cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	invalidateCart(s.cache, cart.TenantID, cart.UserID)
	return nil
}

func (s *CartService) emptyCart(tenantID, userID string) *domain.Cart {
	now := s.now()
	return &domain.Cart{
		TenantID:  tenantID,
		UserID:    userID,
		Items:     []domain.CartItem{},
		Status:    domain.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// applyPrice stores per-unit final price and discount next to the line total.
func applyPrice(item *domain.CartItem, basePrice decimal.Decimal, quantity int, price PriceBreakdown) {
	qty := decimal.NewFromInt(int64(quantity))
	item.Quantity = quantity
	item.BasePrice = basePrice
	item.FinalPrice = price.FinalPrice.Div(qty)
	item.DiscountAmount = price.DiscountAmount.Div(qty)
	item.Subtotal = price.FinalPrice
	item.AppliedRules = price.AppliedRules
}

func syncProductInfo(item *domain.CartItem, p *domain.Product) {
	item.SKU = p.SKU
	item.Name = p.Name
	item.Description = p.Description
	item.ImageURL = p.ImageURL
	item.Category = p.Category
}

func insufficient(p *domain.Product, requested int) error {
	return &InsufficientStockError{
		ProductID: p.ID,
		Name:      p.Name,
		Available: p.Inventory,
		Requested: requested,
	}
}

// cartKey length-prefixes the tenant so no two (tenant, user) pairs collide.
func cartKey(tenantID, userID string) string {
	return fmt.Sprintf("cart:%d:%s:%s", len(tenantID), tenantID, userID)
}

func invalidateCart(cache port.CacheRepository, tenantID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cache.DeleteCart(ctx, tenantID, userID); err != nil {
		log.Printf("cart: cache invalidate error: %v", err)
	}
}

type noopCache struct{}

func (noopCache) GetCart(context.Context, string, string) (*domain.Cart, error) { return nil, nil }
func (noopCache) SetCart(context.Context, domain.Cart) error                    { return nil }
func (noopCache) DeleteCart(context.Context, string, string) error              { return nil }
