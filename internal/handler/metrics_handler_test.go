package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/service"
)

type userListerMock struct {
	filter models.UserFilter
}

func (m *userListerMock) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	m.filter = filter
	return []models.User{{ID: "u1", Email: "ana@example.com", PasswordHash: "hash"}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func TestUserHandlerListParsesFilterAndHidesPasswords(t *testing.T) {
	svc := &userListerMock{}
	handler := NewUserHandler(svc)
	c, w := newJSONContext(t, http.MethodGet, "/users?page=2&page_size=5&role=user&search=ana", nil)

	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, svc.filter.Page)
	assert.Equal(t, 5, svc.filter.PageSize)
	require.NotNil(t, svc.filter.Role)
	assert.Equal(t, models.RoleUser, *svc.filter.Role)
	assert.Equal(t, "ana", svc.filter.Search)
	assert.NotContains(t, w.Body.String(), "hash")
	assert.Contains(t, w.Body.String(), `"total_count":1`)
}

func TestUserHandlerListRejectsBadQuery(t *testing.T) {
	for _, target := range []string{"/users?page=0", "/users?page_size=abc", "/users?role=teacher"} {
		svc := &userListerMock{}
		c, w := newJSONContext(t, http.MethodGet, target, nil)

		NewUserHandler(svc).List(c)

		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR", target)
	}
}

func TestMetricsHandlerReady(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return nil },
	})
	c, w := newJSONContext(t, http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	handler = NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	c, w = newJSONContext(t, http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordCouponOperation("create")
	handler := NewMetricsHandler(metrics.Handler(), nil)
	c, w := newJSONContext(t, http.MethodGet, "/metrics", nil)

	handler.Prometheus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `coupon_admin_operations_total{operation="create"} 1`)

	handler = NewMetricsHandler(nil, nil)
	c, w = newJSONContext(t, http.MethodGet, "/metrics", nil)
	handler.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
