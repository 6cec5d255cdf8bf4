package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/assessment-api/api/swagger"
	"github.com/noah-isme/assessment-api/internal/handler"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/internal/router"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/migrations"
	"github.com/noah-isme/assessment-api/pkg/cache"
	"github.com/noah-isme/assessment-api/pkg/config"
	"github.com/noah-isme/assessment-api/pkg/database"
	"github.com/noah-isme/assessment-api/pkg/export"
	"github.com/noah-isme/assessment-api/pkg/jobs"
	"github.com/noah-isme/assessment-api/pkg/logger"
	"github.com/noah-isme/assessment-api/pkg/mailer"
)

// @title Assessment API
// @version 1.0.0
// @description Accounts, coupon issuance and redemption for the assessment platform.
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, db, migrations.FS, logr)
		if err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("migrations complete", zap.Int("applied", applied))
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, coupon cache disabled", zap.Error(err))
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	notifier := service.NewNotificationService(mailer.New(cfg.Mail, logr), metrics, logr)
	notifyQueue := jobs.NewQueue("coupon-notifications", notifier.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
		OnGiveUp:   notifier.HandleGiveUp,
	})
	notifyQueue.Start(context.Background())
	notifier.UseQueue(notifyQueue)

	userRepo := repository.NewUserRepository(db)
	couponRepo := repository.NewCouponRepository(db)

	couponCache := service.NewCouponCache(cacheRepo, metrics, cfg.Coupons.CacheTTL, logr, cfg.Coupons.CacheEnabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		AdminEmail:        cfg.Admin.Email,
		AdminPassword:     cfg.Admin.Password,
	})
	userSvc := service.NewUserService(userRepo, logr)
	couponSvc := service.NewCouponService(couponRepo, userRepo, notifier, couponCache, metrics, validate, logr)
	exportSvc := service.NewExportService(couponSvc, logr, export.NewCSVExporter(), export.NewPDFExporter())

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	engine := router.New(router.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Tokens:         authSvc,
		Auditor:        repository.NewAuditRepository(db),
		Observer:       metrics,
		RedeemLimiter:  redeemLimiter(cfg.Coupons),
		Auth:           handler.NewAuthHandler(authSvc, userSvc),
		Users:          handler.NewUserHandler(userSvc),
		Coupons:        handler.NewCouponHandler(couponSvc, exportSvc),
		Metrics:        handler.NewMetricsHandler(metrics.Handler(), checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := notifyQueue.Shutdown(shutdownCtx); err != nil {
		logr.Warn("notification queue did not drain", zap.Error(err))
	}
}

// redeemLimiter returns nil, disabling throttling, when no positive rate is configured.
func redeemLimiter(cfg config.CouponConfig) *middleware.KeyedLimiter {
	if cfg.RedeemRateLimit <= 0 {
		return nil
	}
	return middleware.NewKeyedLimiter(cfg.RedeemRateLimit, cfg.RedeemRateBurst, 0)
}
