package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/models"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
)

type fakeValidator struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (f *fakeValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	f.seen = token
	return f.claims, f.err
}

type fakeRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (f *fakeRecorder) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return f.err
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func serve(router *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", JWT(&fakeValidator{}), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/", map[string]string{"Authorization": "Token abc"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/", map[string]string{"Authorization": "Bearer "}).Code)
}

func TestJWTPropagatesValidatorError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	validator := &fakeValidator{err: appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")}
	router.GET("/", JWT(validator), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := serve(router, http.MethodGet, "/", map[string]string{"Authorization": "Bearer expired"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")
	assert.Equal(t, "expired", validator.seen)
}

func TestJWTAttachesClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	validator := &fakeValidator{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleUser}}
	var got *models.JWTClaims
	router.GET("/", JWT(validator), func(c *gin.Context) {
		got = CurrentClaims(c)
		c.Status(http.StatusNoContent)
	})

	rec := serve(router, http.MethodGet, "/", map[string]string{"Authorization": "bearer good"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		claims *models.JWTClaims
		status int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "user", claims: &models.JWTClaims{UserID: "u1", Role: models.RoleUser}, status: http.StatusForbidden},
		{name: "admin", claims: &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			handlers := []gin.HandlerFunc{}
			if tc.claims != nil {
				handlers = append(handlers, withClaims(tc.claims))
			}
			handlers = append(handlers, RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
			router.GET("/", handlers...)
			assert.Equal(t, tc.status, serve(router, http.MethodGet, "/", nil).Code)
		})
	}
}

func TestKeyedLimiterIsolatesKeys(t *testing.T) {
	limiter := NewKeyedLimiter(1, 2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("a"))
}

func TestKeyedLimiterEvictsIdleBuckets(t *testing.T) {
	limiter := NewKeyedLimiter(1, 1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(2 * time.Minute)
	limiter.Allow("b")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.limiters, "a")
	assert.Contains(t, limiter.limiters, "b")
}

func TestRateLimitReturns429PerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewKeyedLimiter(0.001, 1, time.Minute)
	router := gin.New()
	router.POST("/redeem", withClaims(&models.JWTClaims{UserID: "u1"}), RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/other", withClaims(&models.JWTClaims{UserID: "u2"}), RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/redeem", nil).Code)
	rec := serve(router, http.MethodPost, "/redeem", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/other", nil).Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &fakeRecorder{}
	router := gin.New()
	router.PUT("/coupons/:id/status", withClaims(&models.JWTClaims{UserID: "admin"}), Audit(recorder, nil, models.AuditActionCouponToggle, "coupons"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.PUT("/fail/:id", Audit(recorder, nil, models.AuditActionCouponToggle, "coupons"), func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	serve(router, http.MethodPut, "/coupons/c1/status", nil)
	serve(router, http.MethodPut, "/fail/c2", nil)

	require.Len(t, recorder.logs, 1)
	entry := recorder.logs[0]
	assert.Equal(t, models.AuditActionCouponToggle, entry.Action)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "admin", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "c1", *entry.ResourceID)
}

func TestAuditFailureDoesNotAffectResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &fakeRecorder{err: errors.New("db down")}
	router := gin.New()
	router.POST("/coupons", Audit(recorder, nil, models.AuditActionCouponCreate, "coupons"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	assert.Equal(t, http.StatusCreated, serve(router, http.MethodPost, "/coupons", nil).Code)
	assert.Len(t, recorder.logs, 1)
}

type recordingObserver struct {
	path   string
	status int
}

func (r *recordingObserver) ObserveHTTPRequest(_ string, path string, status int, _ time.Duration) {
	r.path = path
	r.status = status
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/coupons/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	serve(router, http.MethodGet, "/coupons/abc", nil)
	assert.Equal(t, "/coupons/:id", observer.path)
	assert.Equal(t, http.StatusAccepted, observer.status)
}

func TestResponseMetaCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodGet, "/", nil)
	require.NotNil(t, meta)
	assert.Equal(t, true, meta[cacheHitKey])
	assert.Contains(t, meta, processingKey)
}

func TestExtractMetaWithoutCollection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ExtractMeta(c))

	SetMeta(c, "count", 2)
	meta := ExtractMeta(c)
	assert.Equal(t, 2, meta["count"])
	assert.Contains(t, meta, processingKey)
}
