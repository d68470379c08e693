package port

import (
	"context"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
)

type CacheRepository interface {
	// GetCart returns (nil, nil) on a cache miss
	GetCart(ctx context.Context, tenantID, userID string) (*domain.Cart, error)

	SetCart(ctx context.Context, cart domain.Cart) error

	// DeleteCart invalidates the cached cart
	DeleteCart(ctx context.Context, tenantID, userID string) error
}

type MutationLocker interface {
	// Acquire blocks until the permit for key is held or ctx is done
	Acquire(ctx context.Context, key string) (release func(), err error)
}
