package models

import "time"

// CouponType distinguishes targeted coupons from shared ones. It never changes after creation.
type CouponType string

const (
	CouponTypeIndividual CouponType = "INDIVIDUAL"
	CouponTypeGroup      CouponType = "GROUP"
)

// CouponStatus is the admin-controlled availability flag.
type CouponStatus string

const (
	CouponStatusActive   CouponStatus = "ACTIVE"
	CouponStatusInactive CouponStatus = "INACTIVE"
)

// Toggled returns the opposite status.
func (s CouponStatus) Toggled() CouponStatus {
	if s == CouponStatusActive {
		return CouponStatusInactive
	}
	return CouponStatusActive
}

// AssignmentStatus tracks a single user's redemption state on an individual coupon.
// SENT is the only non-terminal state.
type AssignmentStatus string

const (
	AssignmentStatusSent     AssignmentStatus = "SENT"
	AssignmentStatusRedeemed AssignmentStatus = "REDEEMED"
	AssignmentStatusExpired  AssignmentStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentStatusRedeemed || s == AssignmentStatusExpired
}

// Coupon is a redeemable code unlocking one assessment attempt.
type Coupon struct {
	ID            string           `db:"id" json:"id"`
	Code          string           `db:"code" json:"code"`
	Type          CouponType       `db:"type" json:"type"`
	Status        CouponStatus     `db:"status" json:"status"`
	ExpiresAt     *time.Time       `db:"expires_at" json:"expiresAt,omitempty"`
	MaxUses       *int             `db:"max_uses" json:"maxUses,omitempty"`
	Uses          int              `db:"uses" json:"uses"`
	AssignedUsers []CouponAssignee `db:"-" json:"assignedUsers"`
	RedeemedBy    []string         `db:"-" json:"redeemedBy"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
}

// CouponAssignee is one entry of an individual coupon's assignment list.
type CouponAssignee struct {
	CouponID  string           `db:"coupon_id" json:"-"`
	UserID    string           `db:"user_id" json:"userId"`
	Status    AssignmentStatus `db:"status" json:"status"`
	Position  int              `db:"position" json:"-"`
	UpdatedAt time.Time        `db:"updated_at" json:"-"`
}

// CouponRedemption records a group coupon consumed by a user.
type CouponRedemption struct {
	CouponID   string    `db:"coupon_id" json:"couponId"`
	UserID     string    `db:"user_id" json:"userId"`
	RedeemedAt time.Time `db:"redeemed_at" json:"redeemedAt"`
}

// Assignee returns the assignment entry for userID, if any.
func (c *Coupon) Assignee(userID string) *CouponAssignee {
	for i := range c.AssignedUsers {
		if c.AssignedUsers[i].UserID == userID {
			return &c.AssignedUsers[i]
		}
	}
	return nil
}

// HasRedeemed reports whether userID already consumed a group coupon.
func (c *Coupon) HasRedeemed(userID string) bool {
	for _, id := range c.RedeemedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// RedemptionChange is the state transition computed for a redeem attempt.
// The coupon store applies it inside the same locked unit of work.
type RedemptionChange struct {
	UserID        string
	EntryStatus   *AssignmentStatus
	AddRedeemer   bool
	IncrementUses bool
}
