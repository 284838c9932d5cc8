package pricing

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/models"
)

// CouponSource exposes coupon lookup and redemption counts
type CouponSource interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponRedemptions(ctx context.Context, couponID int64) (int, error)
	CountUserCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error)
}

// CouponValidator is the stateless rule evaluator for discount codes.
// Validation reads counts but never writes; the redemption row is
// written inside the order-commit transaction with the coupon row
// locked, which re-checks the caps race-safely.
type CouponValidator struct {
	source CouponSource
	now    func() time.Time
}

// NewCouponValidator creates a coupon validator
func NewCouponValidator(source CouponSource) *CouponValidator {
	return &CouponValidator{source: source, now: time.Now}
}

// Validate checks a code against status, validity window, minimum
// total and usage caps, returning the coupon on success.
func (v *CouponValidator) Validate(ctx context.Context, code string, userID int64, candidateTotal float64) (*models.Coupon, error) {
	coupon, err := v.source.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if coupon.Status != models.CouponStatusActive {
		return nil, models.ErrCouponInactive
	}

	now := v.now()
	if now.Before(coupon.StartAt) {
		return nil, models.ErrCouponNotStarted
	}
	if now.After(coupon.EndAt) {
		return nil, models.ErrCouponExpired
	}

	if candidateTotal < coupon.MinTotal {
		return nil, fmt.Errorf("%w: total %.2f below minimum %.2f",
			models.ErrCouponMinTotal, candidateTotal, coupon.MinTotal)
	}

	if coupon.MaxUses > 0 {
		total, err := v.source.CountCouponRedemptions(ctx, coupon.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count redemptions: %w", err)
		}
		if total >= coupon.MaxUses {
			return nil, models.ErrCouponMaxUses
		}
	}

	if coupon.PerUserLimit > 0 {
		used, err := v.source.CountUserCouponRedemptions(ctx, coupon.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count user redemptions: %w", err)
		}
		if used >= coupon.PerUserLimit {
			return nil, models.ErrCouponUserLimit
		}
	}

	return coupon, nil
}

// Apply computes the discount for a validated coupon against a total.
// Pure function: percent-of-total or fixed amount, clamped so the
// discount never exceeds the pre-discount total.
func Apply(coupon *models.Coupon, total float64) (discount, totalAfter float64) {
	switch coupon.Type {
	case models.CouponTypePercent:
		discount = Round2(total * coupon.Amount / 100)
	case models.CouponTypeFixed:
		discount = Round2(coupon.Amount)
	}

	if discount > total {
		discount = total
	}

	return discount, Round2(total - discount)
}
