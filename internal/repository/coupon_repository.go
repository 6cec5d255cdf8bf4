package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/assessment-api/internal/models"
)

// ErrDuplicateCouponCode is returned when the coupons.code unique constraint rejects an insert.
var ErrDuplicateCouponCode = errors.New("duplicate coupon code")

const couponColumns = `id, code, type, status, expires_at, max_uses, uses, created_at, updated_at`

// RedeemFunc evaluates a redeem attempt against the locked coupon. A non-nil change is
// persisted even when an error is returned, so lazy expiry can be recorded before failing.
type RedeemFunc func(coupon *models.Coupon) (*models.RedemptionChange, error)

// CouponRepository persists coupons with their assignment and redemption rows.
type CouponRepository struct {
	db *sqlx.DB
}

// NewCouponRepository constructs a coupon repository.
func NewCouponRepository(db *sqlx.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// Create inserts a coupon and its initial assignments atomically.
func (r *CouponRepository) Create(ctx context.Context, coupon *models.Coupon) (err error) {
	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	coupon.CreatedAt = now
	coupon.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin coupon create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertCoupon = `INSERT INTO coupons (id, code, type, status, expires_at, max_uses, uses, created_at, updated_at) VALUES (:id, :code, :type, :status, :expires_at, :max_uses, :uses, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertCoupon, coupon); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateCouponCode
			return err
		}
		return fmt.Errorf("insert coupon: %w", err)
	}

	const insertAssignment = `INSERT INTO coupon_assignments (coupon_id, user_id, status, position, updated_at) VALUES ($1, $2, $3, $4, $5)`
	for i := range coupon.AssignedUsers {
		entry := &coupon.AssignedUsers[i]
		entry.CouponID = coupon.ID
		entry.Position = i
		entry.UpdatedAt = now
		if _, err = tx.ExecContext(ctx, insertAssignment, coupon.ID, entry.UserID, entry.Status, entry.Position, now); err != nil {
			return fmt.Errorf("insert coupon assignment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit coupon create: %w", err)
	}
	return nil
}

// FindByID returns a coupon with its assignments and redeemers.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1 LIMIT 1`
	var coupon models.Coupon
	if err := r.db.GetContext(ctx, &coupon, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find coupon by id: %w", err)
	}
	if err := loadCouponChildren(ctx, r.db, &coupon); err != nil {
		return nil, err
	}
	return &coupon, nil
}

// List returns every coupon, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC`
	var coupons []models.Coupon
	if err := r.db.SelectContext(ctx, &coupons, query); err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	if len(coupons) == 0 {
		return []models.Coupon{}, nil
	}

	ids := make([]string, len(coupons))
	index := make(map[string]*models.Coupon, len(coupons))
	for i := range coupons {
		ids[i] = coupons[i].ID
		coupons[i].AssignedUsers = []models.CouponAssignee{}
		coupons[i].RedeemedBy = []string{}
		index[coupons[i].ID] = &coupons[i]
	}

	const assignmentsQuery = `SELECT coupon_id, user_id, status, position, updated_at FROM coupon_assignments WHERE coupon_id::text = ANY($1) ORDER BY coupon_id, position`
	var assignees []models.CouponAssignee
	if err := r.db.SelectContext(ctx, &assignees, assignmentsQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list coupon assignments: %w", err)
	}
	for _, a := range assignees {
		if c, ok := index[a.CouponID]; ok {
			c.AssignedUsers = append(c.AssignedUsers, a)
		}
	}

	const redemptionsQuery = `SELECT coupon_id, user_id, redeemed_at FROM coupon_redemptions WHERE coupon_id::text = ANY($1) ORDER BY redeemed_at`
	var redemptions []models.CouponRedemption
	if err := r.db.SelectContext(ctx, &redemptions, redemptionsQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list coupon redemptions: %w", err)
	}
	for _, rd := range redemptions {
		if c, ok := index[rd.CouponID]; ok {
			c.RedeemedBy = append(c.RedeemedBy, rd.UserID)
		}
	}

	return coupons, nil
}

// ToggleStatus flips ACTIVE and INACTIVE in a single statement.
func (r *CouponRepository) ToggleStatus(ctx context.Context, id string) (*models.Coupon, error) {
	query := `UPDATE coupons SET status = CASE WHEN status = 'ACTIVE' THEN 'INACTIVE' ELSE 'ACTIVE' END, updated_at = $2 WHERE id = $1 RETURNING ` + couponColumns
	var coupon models.Coupon
	if err := r.db.GetContext(ctx, &coupon, query, id, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("toggle coupon status: %w", err)
	}
	if err := loadCouponChildren(ctx, r.db, &coupon); err != nil {
		return nil, err
	}
	return &coupon, nil
}

// AddAssignments appends SENT entries for user ids not yet assigned and returns how many were added.
func (r *CouponRepository) AddAssignments(ctx context.Context, couponID string, userIDs []string) (added int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin coupon assignment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lockedID string
	if err = tx.GetContext(ctx, &lockedID, `SELECT id FROM coupons WHERE id = $1 FOR UPDATE`, couponID); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("lock coupon: %w", err)
	}

	var next int
	if err = tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(position) + 1, 0) FROM coupon_assignments WHERE coupon_id = $1`, couponID); err != nil {
		return 0, fmt.Errorf("next assignment position: %w", err)
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO coupon_assignments (coupon_id, user_id, status, position, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (coupon_id, user_id) DO NOTHING`
	for _, userID := range userIDs {
		res, execErr := tx.ExecContext(ctx, insertQuery, couponID, userID, models.AssignmentStatusSent, next, now)
		if execErr != nil {
			err = fmt.Errorf("insert coupon assignment: %w", execErr)
			return 0, err
		}
		affected, _ := res.RowsAffected()
		if affected > 0 {
			added++
			next++
		}
	}

	if added > 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE coupons SET updated_at = $2 WHERE id = $1`, couponID, now); err != nil {
			return 0, fmt.Errorf("touch coupon: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit coupon assignment: %w", err)
	}
	return added, nil
}

// Redeem locks the coupon identified by code, evaluates apply and persists the resulting change
// in one transaction. Concurrent redemptions of the same coupon serialize on the row lock.
func (r *CouponRepository) Redeem(ctx context.Context, code string, apply RedeemFunc) (*models.Coupon, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin coupon redeem: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`
	var coupon models.Coupon
	if err := tx.GetContext(ctx, &coupon, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock coupon by code: %w", err)
	}
	if err := loadCouponChildren(ctx, tx, &coupon); err != nil {
		return nil, err
	}

	change, applyErr := apply(&coupon)
	if change == nil {
		return &coupon, applyErr
	}

	now := time.Now().UTC()
	if change.EntryStatus != nil {
		const updateEntry = `UPDATE coupon_assignments SET status = $1, updated_at = $2 WHERE coupon_id = $3 AND user_id = $4 AND status = 'SENT'`
		res, err := tx.ExecContext(ctx, updateEntry, *change.EntryStatus, now, coupon.ID, change.UserID)
		if err != nil {
			return nil, fmt.Errorf("update coupon assignment: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected != 1 {
			return nil, fmt.Errorf("update coupon assignment: %d rows affected", affected)
		}
		if entry := coupon.Assignee(change.UserID); entry != nil {
			entry.Status = *change.EntryStatus
			entry.UpdatedAt = now
		}
	}
	if change.AddRedeemer {
		const insertRedemption = `INSERT INTO coupon_redemptions (coupon_id, user_id, redeemed_at) VALUES ($1, $2, $3)`
		if _, err := tx.ExecContext(ctx, insertRedemption, coupon.ID, change.UserID, now); err != nil {
			return nil, fmt.Errorf("insert coupon redemption: %w", err)
		}
		coupon.RedeemedBy = append(coupon.RedeemedBy, change.UserID)
	}
	if change.IncrementUses {
		const incrementUses = `UPDATE coupons SET uses = uses + 1, updated_at = $2 WHERE id = $1 RETURNING uses`
		if err := tx.GetContext(ctx, &coupon.Uses, incrementUses, coupon.ID, now); err != nil {
			return nil, fmt.Errorf("increment coupon uses: %w", err)
		}
	}
	coupon.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit coupon redeem: %w", err)
	}
	committed = true
	return &coupon, applyErr
}

func loadCouponChildren(ctx context.Context, q sqlx.QueryerContext, coupon *models.Coupon) error {
	coupon.AssignedUsers = []models.CouponAssignee{}
	coupon.RedeemedBy = []string{}

	switch coupon.Type {
	case models.CouponTypeIndividual:
		const query = `SELECT coupon_id, user_id, status, position, updated_at FROM coupon_assignments WHERE coupon_id = $1 ORDER BY position`
		if err := sqlx.SelectContext(ctx, q, &coupon.AssignedUsers, query, coupon.ID); err != nil {
			return fmt.Errorf("load coupon assignments: %w", err)
		}
	case models.CouponTypeGroup:
		const query = `SELECT user_id FROM coupon_redemptions WHERE coupon_id = $1 ORDER BY redeemed_at`
		if err := sqlx.SelectContext(ctx, q, &coupon.RedeemedBy, query, coupon.ID); err != nil {
			return fmt.Errorf("load coupon redemptions: %w", err)
		}
	}
	return nil
}
