package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/repository"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
)

const redeemSuccessMessage = "Coupon redeemed successfully"

type couponStore interface {
	Create(ctx context.Context, coupon *models.Coupon) error
	FindByID(ctx context.Context, id string) (*models.Coupon, error)
	List(ctx context.Context) ([]models.Coupon, error)
	ToggleStatus(ctx context.Context, id string) (*models.Coupon, error)
	AddAssignments(ctx context.Context, couponID string, userIDs []string) (int, error)
	Redeem(ctx context.Context, code string, apply repository.RedeemFunc) (*models.Coupon, error)
}

type couponUserReader interface {
	FindMany(ctx context.Context, ids []string) ([]models.User, error)
}

type couponNotifier interface {
	CouponAssigned(ctx context.Context, code string, users []models.User) int
}

// CouponService implements the coupon lifecycle: issue, toggle, assign and redeem.
type CouponService struct {
	repo      couponStore
	users     couponUserReader
	notifier  couponNotifier
	cache     *CouponCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCouponService constructs a CouponService.
func NewCouponService(repo couponStore, users couponUserReader, notifier couponNotifier, cache *CouponCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CouponService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CouponService{
		repo:      repo,
		users:     users,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create issues a new ACTIVE coupon with zero uses.
func (s *CouponService) Create(ctx context.Context, req dto.CreateCouponRequest) (*models.Coupon, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid coupon payload")
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "coupon code is required")
	}

	coupon := &models.Coupon{
		Code:          code,
		Type:          models.CouponType(req.Type),
		Status:        models.CouponStatusActive,
		AssignedUsers: []models.CouponAssignee{},
		RedeemedBy:    []string{},
	}

	switch coupon.Type {
	case models.CouponTypeIndividual:
		expiresAt, err := s.resolveExpiry(req)
		if err != nil {
			return nil, err
		}
		coupon.ExpiresAt = &expiresAt

		userIDs := uniqueIDs(req.AssignedUsers)
		if _, err := s.resolveUsers(ctx, userIDs); err != nil {
			return nil, err
		}
		for _, id := range userIDs {
			coupon.AssignedUsers = append(coupon.AssignedUsers, models.CouponAssignee{UserID: id, Status: models.AssignmentStatusSent})
		}
	case models.CouponTypeGroup:
		if req.MaxUses == nil || *req.MaxUses <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "maxUses must be a positive integer for GROUP coupons")
		}
		maxUses := *req.MaxUses
		coupon.MaxUses = &maxUses
	}

	if err := s.repo.Create(ctx, coupon); err != nil {
		if errors.Is(err, repository.ErrDuplicateCouponCode) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateCode, fmt.Sprintf("coupon code %q already exists", code))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create coupon")
	}

	s.cache.Invalidate(ctx)
	s.metrics.RecordCouponOperation("create")
	s.logger.Info("coupon created", zap.String("coupon_id", coupon.ID), zap.String("type", string(coupon.Type)))
	return coupon, nil
}

// List returns every coupon. The boolean reports a cache hit.
func (s *CouponService) List(ctx context.Context) ([]models.Coupon, bool, error) {
	cached, ok, gen := s.cache.Lookup(ctx)
	if ok {
		return cached, true, nil
	}
	coupons, err := s.repo.List(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list coupons")
	}
	s.cache.Store(ctx, gen, coupons)
	return coupons, false, nil
}

// ToggleStatus flips a coupon between ACTIVE and INACTIVE.
func (s *CouponService) ToggleStatus(ctx context.Context, id string) (*models.Coupon, error) {
	if !validCouponID(id) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "coupon not found")
	}
	coupon, err := s.repo.ToggleStatus(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "coupon not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle coupon status")
	}
	s.cache.Invalidate(ctx)
	s.metrics.RecordCouponOperation("toggle_status")
	return coupon, nil
}

// validCouponID reports whether id can name a stored coupon. Coupon ids are UUIDs.
func validCouponID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Assign adds users to an individual coupon and emails them the code. Users already
// assigned are skipped but still notified. Email failures never fail the assignment.
func (s *CouponService) Assign(ctx context.Context, couponID string, req dto.AssignCouponRequest) (*dto.AssignCouponResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if !validCouponID(couponID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "coupon not found")
	}

	coupon, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "coupon not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coupon")
	}
	if coupon.Type != models.CouponTypeIndividual {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only INDIVIDUAL coupons can be assigned to users")
	}

	userIDs := uniqueIDs(req.UserIDs)
	users, err := s.resolveUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	added, err := s.repo.AddAssignments(ctx, coupon.ID, userIDs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "coupon not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign coupon")
	}
	s.cache.Invalidate(ctx)
	s.metrics.RecordCouponOperation("assign")

	notified := 0
	if s.notifier != nil {
		notified = s.notifier.CouponAssigned(ctx, coupon.Code, users)
	}

	return &dto.AssignCouponResponse{
		Message:  "Users assigned and emails sent.",
		Added:    added,
		Notified: notified,
	}, nil
}

// Redeem consumes a coupon on behalf of the caller.
func (s *CouponService) Redeem(ctx context.Context, claims *models.JWTClaims, req dto.RedeemCouponRequest) (*dto.MessageResponse, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid redeem payload")
	}
	if claims.UserID == models.AdminIdentityID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "administrator identity cannot redeem coupons")
	}

	code := strings.TrimSpace(req.CouponCode)
	var couponType models.CouponType
	now := s.now()
	_, err := s.repo.Redeem(ctx, code, func(coupon *models.Coupon) (*models.RedemptionChange, error) {
		couponType = coupon.Type
		return evaluateRedemption(coupon, claims.UserID, now)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordRedemption(string(couponType), appErrors.ErrCouponUnavailable.Code)
			return nil, appErrors.ErrCouponUnavailable
		}
		var appErr *appErrors.Error
		if !errors.As(err, &appErr) {
			s.metrics.RecordRedemption(string(couponType), appErrors.ErrInternal.Code)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to redeem coupon")
		}
		if appErrors.Is(err, appErrors.ErrCouponExpired) {
			s.cache.Invalidate(ctx)
		}
		s.metrics.RecordRedemption(string(couponType), appErr.Code)
		return nil, appErr
	}

	s.cache.Invalidate(ctx)
	s.metrics.RecordRedemption(string(couponType), "success")
	s.logger.Info("coupon redeemed", zap.String("user_id", claims.UserID), zap.String("type", string(couponType)))
	return &dto.MessageResponse{Message: redeemSuccessMessage}, nil
}

func (s *CouponService) resolveExpiry(req dto.CreateCouponRequest) (time.Time, error) {
	if req.ExpiresAt != nil {
		return req.ExpiresAt.UTC(), nil
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "expiresIn must be a positive duration such as 48h")
		}
		return s.now().Add(d), nil
	}
	return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "expiresAt or expiresIn is required for INDIVIDUAL coupons")
}

// resolveUsers loads every id and fails when any is unknown.
func (s *CouponService) resolveUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	users, err := s.users.FindMany(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load users")
	}
	found := make(map[string]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("user %s not found", id))
		}
	}
	return users, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
