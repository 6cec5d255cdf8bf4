package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/assessment-api/internal/models"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
)

// evaluateRedemption decides the outcome of userID redeeming coupon at now.
//
// Check order matters: availability, then per-type rules. For individual coupons the
// assignment lookup and terminal-state check run before expiry, so an entry that already
// expired reports ALREADY_PROCESSED rather than COUPON_EXPIRED. Expiry is only evaluated
// here and yields both a change (entry -> EXPIRED) and an error.
func evaluateRedemption(coupon *models.Coupon, userID string, now time.Time) (*models.RedemptionChange, error) {
	if coupon == nil || coupon.Status != models.CouponStatusActive {
		return nil, appErrors.ErrCouponUnavailable
	}

	switch coupon.Type {
	case models.CouponTypeIndividual:
		entry := coupon.Assignee(userID)
		if entry == nil {
			return nil, appErrors.ErrNotAssigned
		}
		if entry.Status.Terminal() {
			return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, fmt.Sprintf("coupon already %s", strings.ToLower(string(entry.Status))))
		}
		if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
			expired := models.AssignmentStatusExpired
			return &models.RedemptionChange{UserID: userID, EntryStatus: &expired}, appErrors.ErrCouponExpired
		}
		redeemed := models.AssignmentStatusRedeemed
		return &models.RedemptionChange{UserID: userID, EntryStatus: &redeemed, IncrementUses: true}, nil
	case models.CouponTypeGroup:
		if coupon.MaxUses == nil || coupon.Uses >= *coupon.MaxUses {
			return nil, appErrors.ErrLimitReached
		}
		if coupon.HasRedeemed(userID) {
			return nil, appErrors.ErrAlreadyRedeemed
		}
		return &models.RedemptionChange{UserID: userID, AddRedeemer: true, IncrementUses: true}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid coupon type")
	}
}
