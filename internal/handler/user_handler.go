package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assessment-api/internal/models"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
	"github.com/noah-isme/assessment-api/pkg/response"
)

type userLister interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
}

// UserHandler exposes user administration endpoints.
type UserHandler struct {
	service userLister
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userLister) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Description List registered users with pagination and filtering
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param role query string false "Role filter"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	filter, err := parseUserFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	users, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, users, pagination)
}

func parseUserFilter(c *gin.Context) (models.UserFilter, error) {
	filter := models.UserFilter{Search: strings.TrimSpace(c.Query("search"))}

	var err error
	if filter.Page, err = queryInt(c, "page", 1); err != nil {
		return filter, err
	}
	if filter.PageSize, err = queryInt(c, "page_size", 20); err != nil {
		return filter, err
	}

	if raw := c.Query("role"); raw != "" {
		role := models.UserRole(strings.ToLower(raw))
		if role != models.RoleUser && role != models.RoleAdmin {
			return filter, appErrors.Clone(appErrors.ErrValidation, "role must be user or admin")
		}
		filter.Role = &role
	}
	return filter, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, appErrors.Clone(appErrors.ErrValidation, key+" must be a positive integer")
	}
	return v, nil
}
