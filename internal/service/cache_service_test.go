package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/models"
)

func TestCouponCacheDiscardsListingLoadedBeforeInvalidate(t *testing.T) {
	repo := newMemCacheRepo()
	cache := NewCouponCache(repo, nil, time.Minute, nil, true)
	ctx := context.Background()

	_, hit, gen := cache.Lookup(ctx)
	require.False(t, hit)

	// a write lands while the stale listing is still being loaded
	cache.Invalidate(ctx)
	cache.Store(ctx, gen, []models.Coupon{{Code: "STALE"}})

	_, hit, next := cache.Lookup(ctx)
	assert.False(t, hit)
	assert.Equal(t, gen+1, next)

	cache.Store(ctx, next, []models.Coupon{{Code: "FRESH"}})
	coupons, hit, _ := cache.Lookup(ctx)
	require.True(t, hit)
	assert.Equal(t, "FRESH", coupons[0].Code)
}

func TestCouponCacheTreatsFaultsAsMisses(t *testing.T) {
	repo := newMemCacheRepo()
	repo.failGet = true
	cache := NewCouponCache(repo, NewMetricsService(), time.Minute, nil, true)

	coupons, hit, _ := cache.Lookup(context.Background())
	assert.False(t, hit)
	assert.Nil(t, coupons)
}

func TestCouponCacheDisabled(t *testing.T) {
	var nilCache *CouponCache
	_, hit, gen := nilCache.Lookup(context.Background())
	assert.False(t, hit)
	assert.Equal(t, noGeneration, gen)
	nilCache.Store(context.Background(), 0, nil)
	nilCache.Invalidate(context.Background())

	off := NewCouponCache(newMemCacheRepo(), nil, time.Minute, nil, false)
	assert.False(t, off.Enabled())
}
