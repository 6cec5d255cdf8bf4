package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/handler"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/service"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
)

type tokenTable map[string]*models.JWTClaims

func (t tokenTable) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type auditSink struct {
	mu      sync.Mutex
	actions []string
}

func (a *auditSink) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

type stubAuth struct{}

func (stubAuth) Register(_ context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	return &models.UserInfo{ID: "u1", Email: req.Email, Name: req.Name, Role: models.RoleUser}, nil
}

func (stubAuth) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return &models.LoginResponse{Token: "student-token", User: models.UserInfo{Email: req.Email}}, nil
}

func (stubAuth) Profile(_ context.Context, claims *models.JWTClaims) (*models.UserInfo, error) {
	return &models.UserInfo{ID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

type stubUsers struct{}

func (stubUsers) List(context.Context, models.UserFilter) ([]models.User, *models.Pagination, error) {
	return []models.User{{ID: "u1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

type stubCoupons struct{}

func (stubCoupons) Create(_ context.Context, req dto.CreateCouponRequest) (*models.Coupon, error) {
	return &models.Coupon{ID: "c1", Code: req.Code, Type: models.CouponType(req.Type), Status: models.CouponStatusActive}, nil
}

func (stubCoupons) List(context.Context) ([]models.Coupon, bool, error) {
	return []models.Coupon{{ID: "c1", Code: "SAVE10"}}, true, nil
}

func (stubCoupons) ToggleStatus(_ context.Context, id string) (*models.Coupon, error) {
	return &models.Coupon{ID: id, Status: models.CouponStatusInactive}, nil
}

func (stubCoupons) Assign(_ context.Context, _ string, req dto.AssignCouponRequest) (*dto.AssignCouponResponse, error) {
	return &dto.AssignCouponResponse{Message: "Users assigned and emails sent.", Added: len(req.UserIDs)}, nil
}

func (stubCoupons) Redeem(context.Context, *models.JWTClaims, dto.RedeemCouponRequest) (*dto.MessageResponse, error) {
	return &dto.MessageResponse{Message: "Coupon redeemed successfully"}, nil
}

func (stubCoupons) ExportCoupons(context.Context, dto.ExportFormat) (*service.ExportResult, error) {
	return &service.ExportResult{Filename: "coupons.csv", ContentType: "text/csv", Payload: []byte("Code\n")}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *auditSink) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	audits := &auditSink{}
	metrics := service.NewMetricsService()
	r := New(Options{
		APIPrefix: "/api/",
		Tokens: tokenTable{
			"admin-token":   {UserID: models.AdminIdentityID, Role: models.RoleAdmin},
			"student-token": {UserID: "u1", Role: models.RoleUser},
		},
		Auditor:       audits,
		Observer:      metrics,
		RedeemLimiter: middleware.NewKeyedLimiter(0.001, 1, time.Minute),
		Auth:          handler.NewAuthHandler(stubAuth{}, stubAuth{}),
		Users:         handler.NewUserHandler(stubUsers{}),
		Coupons:       handler.NewCouponHandler(stubCoupons{}, stubCoupons{}),
		Metrics:       handler.NewMetricsHandler(metrics.Handler(), nil),
	})
	return r, audits
}

func call(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouterAccessControl(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"register is public", http.MethodPost, "/api/auth/register", "", http.StatusCreated},
		{"me requires token", http.MethodGet, "/api/auth/me", "", http.StatusUnauthorized},
		{"me with token", http.MethodGet, "/api/auth/me", "student-token", http.StatusOK},
		{"users admin only", http.MethodGet, "/api/users", "student-token", http.StatusForbidden},
		{"users for admin", http.MethodGet, "/api/users", "admin-token", http.StatusOK},
		{"coupon list admin only", http.MethodGet, "/api/coupons", "student-token", http.StatusForbidden},
		{"toggle for admin", http.MethodPut, "/api/coupons/c1/status", "admin-token", http.StatusOK},
		{"export for admin", http.MethodGet, "/api/coupons/export", "admin-token", http.StatusOK},
		{"redeem requires token", http.MethodPost, "/api/coupons/redeem", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/auth/me", "forged", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body interface{}
			if tt.path == "/api/auth/register" {
				body = map[string]string{"name": "Ana", "email": "ana@example.com", "password": "secret123"}
			}
			rec := call(r, tt.method, tt.path, tt.token, body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouterCouponListCarriesMeta(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := call(r, http.MethodGet, "/api/coupons", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body.Meta["cacheHit"])
	assert.Contains(t, body.Meta, "processingTimeMs")
}

func TestRouterAuditsAdminWrites(t *testing.T) {
	r, audits := newTestRouter(t)

	rec := call(r, http.MethodPost, "/api/coupons", "admin-token", map[string]interface{}{"code": "SAVE10", "type": "GROUP", "maxUses": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = call(r, http.MethodPost, "/api/coupons/c1/assign", "admin-token", map[string]interface{}{"userIds": []string{"u1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{models.AuditActionCouponCreate, models.AuditActionCouponAssign}, audits.actions)
}

func TestRouterRateLimitsRedeem(t *testing.T) {
	r, _ := newTestRouter(t)
	payload := map[string]string{"couponCode": "SAVE10"}

	first := call(r, http.MethodPost, "/api/coupons/redeem", "student-token", payload)
	second := call(r, http.MethodPost, "/api/coupons/redeem", "student-token", payload)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	r, _ := newTestRouter(t)
	call(r, http.MethodGet, "/health", "", nil)

	rec := call(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/health",status="200"}`)
}
