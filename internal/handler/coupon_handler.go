package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/service"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
	"github.com/noah-isme/assessment-api/pkg/response"
)

type couponService interface {
	Create(ctx context.Context, req dto.CreateCouponRequest) (*models.Coupon, error)
	List(ctx context.Context) ([]models.Coupon, bool, error)
	ToggleStatus(ctx context.Context, id string) (*models.Coupon, error)
	Assign(ctx context.Context, couponID string, req dto.AssignCouponRequest) (*dto.AssignCouponResponse, error)
	Redeem(ctx context.Context, claims *models.JWTClaims, req dto.RedeemCouponRequest) (*dto.MessageResponse, error)
}

type couponExporter interface {
	ExportCoupons(ctx context.Context, format dto.ExportFormat) (*service.ExportResult, error)
}

// CouponHandler exposes coupon administration and redemption endpoints.
type CouponHandler struct {
	service  couponService
	exporter couponExporter
}

// NewCouponHandler constructs a CouponHandler.
func NewCouponHandler(svc couponService, exporter couponExporter) *CouponHandler {
	return &CouponHandler{service: svc, exporter: exporter}
}

// Create godoc
// @Summary Create coupon
// @Description Issue an INDIVIDUAL coupon with an expiry or a GROUP coupon with a usage cap
// @Tags Coupons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateCouponRequest true "Coupon payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /coupons [post]
func (h *CouponHandler) Create(c *gin.Context) {
	var req dto.CreateCouponRequest
	if !bindJSON(c, &req, "invalid coupon payload") {
		return
	}

	coupon, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, coupon)
}

// List godoc
// @Summary List coupons
// @Tags Coupons
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /coupons [get]
func (h *CouponHandler) List(c *gin.Context) {
	coupons, hit, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	middleware.SetMeta(c, "count", len(coupons))

	response.JSON(c, http.StatusOK, coupons, nil, middleware.ExtractMeta(c))
}

// ToggleStatus godoc
// @Summary Toggle coupon status
// @Description Flip a coupon between ACTIVE and INACTIVE
// @Tags Coupons
// @Produce json
// @Security BearerAuth
// @Param id path string true "Coupon ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /coupons/{id}/status [put]
func (h *CouponHandler) ToggleStatus(c *gin.Context) {
	coupon, err := h.service.ToggleStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, coupon, nil)
}

// Assign godoc
// @Summary Assign coupon
// @Description Assign an INDIVIDUAL coupon to users and email them the code
// @Tags Coupons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Coupon ID"
// @Param payload body dto.AssignCouponRequest true "Users to assign"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /coupons/{id}/assign [post]
func (h *CouponHandler) Assign(c *gin.Context) {
	var req dto.AssignCouponRequest
	if !bindJSON(c, &req, "invalid assignment payload") {
		return
	}

	res, err := h.service.Assign(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Redeem godoc
// @Summary Redeem coupon
// @Description Redeem a coupon code as the authenticated user
// @Tags Coupons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.RedeemCouponRequest true "Coupon code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /coupons/redeem [post]
func (h *CouponHandler) Redeem(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.RedeemCouponRequest
	if !bindJSON(c, &req, "invalid redeem payload") {
		return
	}

	res, err := h.service.Redeem(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Export godoc
// @Summary Export coupons
// @Description Download the coupon list as CSV or PDF
// @Tags Coupons
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /coupons/export [get]
func (h *CouponHandler) Export(c *gin.Context) {
	result, err := h.exporter.ExportCoupons(c.Request.Context(), dto.ExportFormat(c.DefaultQuery("format", string(dto.ExportFormatCSV))))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Attachment(c, result.Filename, result.ContentType, result.Payload)
}
