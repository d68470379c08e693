package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
)

const (
	cartKeyPrefix = "cart:"
	lockKeyPrefix = "lock:"
	lockRetryWait = 20 * time.Millisecond
)

// releaseLockScript deletes the lock only if it still holds our token, so an
// expired holder cannot release a lock taken over by someone else.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

// RedisAdapter caches carts as JSON with a jittered TTL.
type RedisAdapter struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	return &RedisAdapter{client: client, baseTTL: ttl}
}

func (r *RedisAdapter) GetCart(ctx context.Context, tenantID, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartCacheKey(tenantID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if cart.TenantID != tenantID || cart.UserID != userID {
		log.Printf("redis: cart entry %s belongs to %s/%s, ignoring", cartCacheKey(tenantID, userID), cart.TenantID, cart.UserID)
		return nil, nil
	}
	return &cart, nil
}

func (r *RedisAdapter) SetCart(ctx context.Context, cart domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(r.baseTTL/4)+1))
	if err := r.client.Set(ctx, cartCacheKey(cart.TenantID, cart.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisAdapter) DeleteCart(ctx context.Context, tenantID, userID string) error {
	if err := r.client.Del(ctx, cartCacheKey(tenantID, userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// cartCacheKey length-prefixes the tenant so "a:b"/"c" and "a"/"b:c" differ.
func cartCacheKey(tenantID, userID string) string {
	return fmt.Sprintf("%s%d:%s:%s", cartKeyPrefix, len(tenantID), tenantID, userID)
}

// RedisLocker hands out mutation permits shared by every server instance.
// The TTL bounds how long a crashed holder can block the key.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock failed: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(lockRetryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseLockScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			log.Printf("redis: release lock %s failed: %v", lockKey, err)
		}
	}, nil
}
