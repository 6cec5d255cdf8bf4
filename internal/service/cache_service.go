package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/assessment-api/internal/models"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
)

const (
	couponListPattern   = "coupons:list:*"
	couponListKeyFormat = "coupons:list:%d"
	couponGenerationKey = "coupons:generation"
	noGeneration        = int64(-1)
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Version(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) (int64, error)
}

// CouponCache keeps the admin coupon listing warm. Listings are keyed by a
// generation counter that every write bumps, so a listing loaded before a write
// can never be served after it. Cache faults never fail a request; they are
// logged and treated as misses.
type CouponCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCouponCache constructs the coupon listing cache.
func NewCouponCache(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CouponCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CouponCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (c *CouponCache) Enabled() bool {
	return c != nil && c.enabled && c.repo != nil
}

// Lookup returns the cached listing, whether it was a hit, and the generation
// to hand back to Store after loading from the database on a miss.
func (c *CouponCache) Lookup(ctx context.Context) ([]models.Coupon, bool, int64) {
	if !c.Enabled() {
		return nil, false, noGeneration
	}
	start := time.Now()
	gen, err := c.repo.Version(ctx, couponGenerationKey)
	if err != nil {
		c.metrics.RecordCacheOperation(false, time.Since(start))
		c.logger.Warn("coupon cache generation read failed", zap.Error(err))
		return nil, false, noGeneration
	}

	var coupons []models.Coupon
	err = c.repo.Get(ctx, fmt.Sprintf(couponListKeyFormat, gen), &coupons)
	c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			c.logger.Warn("coupon cache get failed", zap.Error(err))
		}
		return nil, false, gen
	}
	return coupons, true, gen
}

// Store caches a listing under the generation observed by Lookup.
func (c *CouponCache) Store(ctx context.Context, gen int64, coupons []models.Coupon) {
	if !c.Enabled() || gen == noGeneration {
		return
	}
	start := time.Now()
	err := c.repo.Set(ctx, fmt.Sprintf(couponListKeyFormat, gen), coupons, c.ttl)
	c.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("coupon cache set failed", zap.Error(err))
	}
}

// Invalidate advances the generation and drops superseded listings.
func (c *CouponCache) Invalidate(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	if _, err := c.repo.Bump(ctx, couponGenerationKey); err != nil {
		c.logger.Warn("coupon cache generation bump failed", zap.Error(err))
	}
	if err := c.repo.DeleteByPattern(ctx, couponListPattern); err != nil {
		c.logger.Warn("coupon cache invalidate failed", zap.Error(err))
	}
}
