// Package router assembles the gin engine and the route table.
package router

import (
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-api/internal/handler"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/assessment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/assessment-api/pkg/middleware/requestid"
)

// Options carries the collaborators needed to serve every route.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger

	Tokens        middleware.TokenValidator
	Auditor       middleware.AuditRecorder
	Observer      middleware.RequestObserver
	RedeemLimiter *middleware.KeyedLimiter

	Auth    *handler.AuthHandler
	Users   *handler.UserHandler
	Coupons *handler.CouponHandler
	Metrics *handler.MetricsHandler
}

// New builds the engine with the global middleware chain and all routes.
func New(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	if opts.Observer != nil {
		r.Use(middleware.Metrics(opts.Observer))
	}

	r.GET("/health", opts.Metrics.Health)
	r.GET("/ready", opts.Metrics.Ready)
	r.GET("/metrics", opts.Metrics.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := "/" + strings.Trim(opts.APIPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	api := r.Group(prefix)

	authRequired := middleware.JWT(opts.Tokens)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	auth := api.Group("/auth")
	auth.POST("/register", opts.Auth.Register)
	auth.POST("/login", opts.Auth.Login)
	auth.GET("/me", authRequired, opts.Auth.Me)

	users := api.Group("/users", authRequired, adminOnly)
	users.GET("", opts.Users.List)

	coupons := api.Group("/coupons", authRequired)
	coupons.POST("/redeem", middleware.RateLimit(opts.RedeemLimiter), opts.Coupons.Redeem)

	admin := coupons.Group("", adminOnly)
	admin.POST("", middleware.Audit(opts.Auditor, opts.Logger, models.AuditActionCouponCreate, "coupon"), opts.Coupons.Create)
	admin.GET("", middleware.WithResponseMeta(), opts.Coupons.List)
	admin.GET("/export", opts.Coupons.Export)
	admin.PUT("/:id/status", middleware.Audit(opts.Auditor, opts.Logger, models.AuditActionCouponToggle, "coupon"), opts.Coupons.ToggleStatus)
	admin.POST("/:id/assign", middleware.Audit(opts.Auditor, opts.Logger, models.AuditActionCouponAssign, "coupon"), opts.Coupons.Assign)

	return r
}
