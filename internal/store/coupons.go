package store

import (
	"context"
	"database/sql"
	"fmt"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCouponByCode retrieves a coupon by its code
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, models.ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CountCouponRedemptions counts total redemptions of a coupon
func (s *Store) CountCouponRedemptions(ctx context.Context, couponID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1", couponID)
	return count, err
}

// CountUserCouponRedemptions counts one user's redemptions of a coupon
func (s *Store) CountUserCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2",
		couponID, userID)
	return count, err
}

// redeemCouponTx writes a redemption inside the order transaction.
// The coupon row is locked first so the usage-cap counts cannot be
// exceeded by concurrent redemptions near the limit.
func redeemCouponTx(ctx context.Context, tx *sqlx.Tx, coupon *models.Coupon, userID, orderID int64, discount float64) error {
	var locked models.Coupon
	err := tx.GetContext(ctx, &locked,
		"SELECT * FROM coupons WHERE id = $1 FOR UPDATE", coupon.ID)
	if err != nil {
		return fmt.Errorf("failed to lock coupon: %w", err)
	}

	if locked.MaxUses > 0 {
		var total int
		err = tx.GetContext(ctx, &total,
			"SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1", locked.ID)
		if err != nil {
			return fmt.Errorf("failed to count redemptions: %w", err)
		}
		if total >= locked.MaxUses {
			return models.ErrCouponMaxUses
		}
	}

	if locked.PerUserLimit > 0 {
		var used int
		err = tx.GetContext(ctx, &used,
			"SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2",
			locked.ID, userID)
		if err != nil {
			return fmt.Errorf("failed to count user redemptions: %w", err)
		}
		if used >= locked.PerUserLimit {
			return models.ErrCouponUserLimit
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO coupon_redemptions (coupon_id, user_id, order_id, discount)
		 VALUES ($1, $2, $3, $4)`,
		locked.ID, userID, orderID, discount)
	if err != nil {
		return fmt.Errorf("failed to record coupon redemption: %w", err)
	}
	return nil
}
