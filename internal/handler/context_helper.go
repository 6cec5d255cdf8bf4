package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/models"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
	"github.com/noah-isme/assessment-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentClaims(c)
}

// bindJSON decodes the request body into dst, writing a validation error on failure.
func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}
