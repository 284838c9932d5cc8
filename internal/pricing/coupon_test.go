package pricing

import (
	"context"
	"testing"
	"time"

	"booking-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeCoupon() *models.Coupon {
	return &models.Coupon{
		ID:           1,
		Code:         "WELCOME",
		Type:         models.CouponTypePercent,
		Amount:       15,
		MinTotal:     50,
		MaxUses:      100,
		PerUserLimit: 1,
		StartAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndAt:        time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		Status:       models.CouponStatusActive,
	}
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestValidateAcceptsActiveCoupon(t *testing.T) {
	src := &fakeCouponSource{coupon: activeCoupon()}
	v := NewCouponValidator(src)
	v.now = fixedNow(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

	coupon, err := v.Validate(context.Background(), "WELCOME", 42, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), coupon.ID)
}

func TestValidateRejections(t *testing.T) {
	midYear := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(c *models.Coupon, src *fakeCouponSource)
		now     time.Time
		total   float64
		wantErr error
	}{
		{
			name:    "inactive status",
			mutate:  func(c *models.Coupon, _ *fakeCouponSource) { c.Status = models.CouponStatusInactive },
			now:     midYear,
			total:   100,
			wantErr: models.ErrCouponInactive,
		},
		{
			name:    "not yet started",
			mutate:  func(c *models.Coupon, _ *fakeCouponSource) {},
			now:     time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			total:   100,
			wantErr: models.ErrCouponNotStarted,
		},
		{
			name:    "expired",
			mutate:  func(c *models.Coupon, _ *fakeCouponSource) {},
			now:     time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC),
			total:   100,
			wantErr: models.ErrCouponExpired,
		},
		{
			name:    "below minimum total",
			mutate:  func(c *models.Coupon, _ *fakeCouponSource) {},
			now:     midYear,
			total:   49.99,
			wantErr: models.ErrCouponMinTotal,
		},
		{
			name:    "global cap reached",
			mutate:  func(c *models.Coupon, src *fakeCouponSource) { src.totalUsed = 100 },
			now:     midYear,
			total:   100,
			wantErr: models.ErrCouponMaxUses,
		},
		{
			name:    "per-user limit reached",
			mutate:  func(c *models.Coupon, src *fakeCouponSource) { src.userUsed = 1 },
			now:     midYear,
			total:   100,
			wantErr: models.ErrCouponUserLimit,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			coupon := activeCoupon()
			src := &fakeCouponSource{coupon: coupon}
			tc.mutate(coupon, src)

			v := NewCouponValidator(src)
			v.now = fixedNow(tc.now)

			_, err := v.Validate(context.Background(), "WELCOME", 42, tc.total)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidateUnknownCode(t *testing.T) {
	v := NewCouponValidator(&fakeCouponSource{})
	_, err := v.Validate(context.Background(), "NOPE", 42, 100)
	assert.ErrorIs(t, err, models.ErrCouponNotFound)
}

func TestApplyPercent(t *testing.T) {
	coupon := &models.Coupon{Type: models.CouponTypePercent, Amount: 15}
	discount, after := Apply(coupon, 200)
	assert.Equal(t, 30.0, discount)
	assert.Equal(t, 170.0, after)
}

func TestApplyFixedClamped(t *testing.T) {
	coupon := &models.Coupon{Type: models.CouponTypeFixed, Amount: 75}
	discount, after := Apply(coupon, 50)
	assert.Equal(t, 50.0, discount)
	assert.Equal(t, 0.0, after)
}
