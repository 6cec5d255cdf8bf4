package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/models"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
)

type authServiceMock struct {
	login models.LoginRequest
}

func (m *authServiceMock) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if req.Email == "taken@example.com" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user already exists")
	}
	return &models.UserInfo{ID: "u1", Email: req.Email, Name: req.Name, Role: models.RoleUser}, nil
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.login = req
	if req.Password != "secret" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid credentials")
	}
	return &models.LoginResponse{Token: "tok", User: models.UserInfo{ID: "u1", Email: req.Email, Role: models.RoleUser}}, nil
}

type profileServiceMock struct {
	err error
}

func (m *profileServiceMock) Profile(ctx context.Context, claims *models.JWTClaims) (*models.UserInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.UserInfo{ID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

func TestAuthHandlerRegister(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{}, &profileServiceMock{})
	c, w := newJSONContext(t, http.MethodPost, "/auth/register", models.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "secret"})

	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)

	c, w = newJSONContext(t, http.MethodPost, "/auth/register", models.RegisterRequest{Name: "Ana", Email: "taken@example.com", Password: "secret"})
	handler.Register(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "user already exists")
}

func TestAuthHandlerLogin(t *testing.T) {
	svc := &authServiceMock{}
	handler := NewAuthHandler(svc, &profileServiceMock{})
	c, w := newJSONContext(t, http.MethodPost, "/auth/login", map[string]string{"email": "ana@example.com", "password": "secret"})
	c.Request.Header.Set("User-Agent", "test-agent")

	handler.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-agent", svc.login.UserAgent)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "tok", data["token"])
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{}, &profileServiceMock{})
	c, w := newJSONContext(t, http.MethodPost, "/auth/login", map[string]string{"email": "ana@example.com", "password": "wrong"})

	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{}, &profileServiceMock{})
	c, w := newJSONContext(t, http.MethodGet, "/auth/me", nil)
	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newJSONContext(t, http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Email: "admin@example.com", Role: models.RoleAdmin})
	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "admin", data["role"])
}

func TestAuthHandlerMeServiceError(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{}, &profileServiceMock{err: errors.New("boom")})
	c, w := newJSONContext(t, http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Role: models.RoleUser})

	handler.Me(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
