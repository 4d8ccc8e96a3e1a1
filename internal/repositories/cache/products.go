// Package cache provides Redis read-through caching in front of the catalogue repositories.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	defaultProductTTL = 5 * time.Minute
	keyPrefix         = "orders:product:"
)

// Client is the subset of the Redis client used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ProductsDeps bundles collaborators for the product cache.
type ProductsDeps struct {
	Next   repositories.ProductRepository
	Client Client
	TTL    time.Duration
	Logger *zap.Logger
}

// Products caches product lookups in Redis. Redis failures are logged and the lookup falls
// through to the wrapped repository.
type Products struct {
	next   repositories.ProductRepository
	client Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ repositories.ProductRepository = (*Products)(nil)

// NewProducts wraps next with a Redis cache.
func NewProducts(deps ProductsDeps) (*Products, error) {
	if deps.Next == nil {
		return nil, errors.New("product cache: repository is required")
	}
	if deps.Client == nil {
		return nil, errors.New("product cache: redis client is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultProductTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Products{
		next:   deps.Next,
		client: deps.Client,
		ttl:    ttl,
		logger: logger.Named("product_cache"),
	}, nil
}

func (p *Products) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return p.readThrough(ctx, keyPrefix+productID, p.ttl, func(ctx context.Context) (domain.Product, error) {
		return p.next.FindByID(ctx, productID)
	})
}

// FindVersion caches pinned versions too. A version never changes once written, so it
// shares the TTL only to bound memory.
func (p *Products) FindVersion(ctx context.Context, productID string, version int64) (domain.Product, error) {
	key := fmt.Sprintf("%s%s@%d", keyPrefix, productID, version)
	return p.readThrough(ctx, key, p.ttl, func(ctx context.Context) (domain.Product, error) {
		return p.next.FindVersion(ctx, productID, version)
	})
}

// Invalidate drops the cached current product.
func (p *Products) Invalidate(ctx context.Context, productID string) error {
	return p.client.Del(ctx, keyPrefix+productID).Err()
}

func (p *Products) readThrough(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (domain.Product, error)) (domain.Product, error) {
	raw, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var product domain.Product
		if err := json.Unmarshal(raw, &product); err == nil {
			return product, nil
		}
		p.logger.Warn("discarding unreadable cached product", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		p.logger.Warn("product cache read failed", zap.String("key", key), zap.Error(err))
	}

	product, err := load(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	payload, err := json.Marshal(product)
	if err != nil {
		p.logger.Warn("product cache encode failed", zap.String("key", key), zap.Error(err))
		return product, nil
	}
	if err := p.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		p.logger.Warn("product cache write failed", zap.String("key", key), zap.Error(err))
	}
	return product, nil
}
