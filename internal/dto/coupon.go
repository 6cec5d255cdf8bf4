package dto

import "time"

// CreateCouponRequest captures the admin payload for issuing a coupon.
type CreateCouponRequest struct {
	Code          string     `json:"code" validate:"required,max=64"`
	Type          string     `json:"type" validate:"required,oneof=INDIVIDUAL GROUP"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	ExpiresIn     string     `json:"expiresIn"`
	MaxUses       *int       `json:"maxUses" validate:"omitempty,gt=0"`
	AssignedUsers []string   `json:"assignedUsers" validate:"omitempty,dive,required"`
}

// AssignCouponRequest lists the users receiving an individual coupon.
type AssignCouponRequest struct {
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,required"`
}

// RedeemCouponRequest is submitted by an authenticated user.
type RedeemCouponRequest struct {
	CouponCode string `json:"couponCode" validate:"required"`
}

// MessageResponse wraps a human readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

// AssignCouponResponse summarises an assignment call.
type AssignCouponResponse struct {
	Message  string `json:"message"`
	Added    int    `json:"added"`
	Notified int    `json:"notified"`
}

// ExportFormat enumerates coupon export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)
