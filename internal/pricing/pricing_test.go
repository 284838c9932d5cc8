package pricing

import (
	"context"
	"testing"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCouponSource struct {
	coupon    *models.Coupon
	totalUsed int
	userUsed  int
}

func (f *fakeCouponSource) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	if f.coupon == nil || f.coupon.Code != code {
		return nil, models.ErrCouponNotFound
	}
	return f.coupon, nil
}

func (f *fakeCouponSource) CountCouponRedemptions(ctx context.Context, couponID int64) (int, error) {
	return f.totalUsed, nil
}

func (f *fakeCouponSource) CountUserCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	return f.userUsed, nil
}

type fakeBalance struct {
	balance int64
}

func (f *fakeBalance) GetPointsBalance(ctx context.Context, userID int64) (int64, error) {
	return f.balance, nil
}

func newTestEngine(couponSource *fakeCouponSource, balance int64) *Engine {
	validator := NewCouponValidator(couponSource)
	return &Engine{
		coupons: validator,
		points:  &fakeBalance{balance: balance},
		logger:  zap.NewNop(),
	}
}

func eventLine(basePrice float64, attendees, quantity int) Line {
	return Line{
		Service: &models.Service{ID: 1, BasePrice: basePrice, Approved: true},
		Details: &models.BookingDetails{
			Kind:  models.DetailsKindEvent,
			Event: &models.EventDetails{Attendees: attendees},
		},
		Quantity: quantity,
	}
}

func TestQuoteSingleLine(t *testing.T) {
	engine := newTestEngine(&fakeCouponSource{}, 0)
	cfg := &settings.Settings{TaxRate: 0.1}

	breakdown, err := engine.Quote(context.Background(), 1, []Line{eventLine(50, 2, 1)}, "", 0, cfg)
	require.NoError(t, err)

	assert.Equal(t, 100.0, breakdown.Subtotal)
	assert.Equal(t, 10.0, breakdown.Tax)
	assert.Equal(t, 0.0, breakdown.Discount)
	assert.Equal(t, 110.0, breakdown.Total)
}

func TestQuoteRoundsAfterEachStep(t *testing.T) {
	engine := newTestEngine(&fakeCouponSource{}, 0)
	cfg := &settings.Settings{TaxRate: 0.07}

	// 33.33 * 0.07 = 2.3331, must come back 2.33, not accumulate drift
	line := eventLine(33.33, 1, 1)
	breakdown, err := engine.Quote(context.Background(), 1, []Line{line, line, line}, "", 0, cfg)
	require.NoError(t, err)

	assert.Equal(t, 99.99, breakdown.Subtotal)
	assert.Equal(t, 6.99, breakdown.Tax)
	assert.Equal(t, 106.98, breakdown.Total)
}

func TestQuoteCouponThenPoints(t *testing.T) {
	src := &fakeCouponSource{coupon: &models.Coupon{
		ID:      7,
		Code:    "SAVE10",
		Type:    models.CouponTypePercent,
		Amount:  10,
		StartAt: time.Now().Add(-time.Hour),
		EndAt:   time.Now().Add(time.Hour),
		Status:  models.CouponStatusActive,
	}}
	engine := newTestEngine(src, 1000)
	cfg := &settings.Settings{
		TaxRate:              0.1,
		PointsRate:           0.01,
		PointsMaxRedeemRatio: 0.5,
	}

	// subtotal 100, tax 10, coupon 10% of 110 = 11, then points against 99
	breakdown, err := engine.Quote(context.Background(), 1, []Line{eventLine(50, 2, 1)}, "SAVE10", 500, cfg)
	require.NoError(t, err)

	assert.Equal(t, 11.0, breakdown.CouponDiscount)
	assert.Equal(t, int64(500), breakdown.PointsApplied)
	assert.Equal(t, 5.0, breakdown.PointsValue)
	assert.Equal(t, 16.0, breakdown.Discount)
	assert.Equal(t, 94.0, breakdown.Total)
}

func TestQuotePointsCappedByRatio(t *testing.T) {
	engine := newTestEngine(&fakeCouponSource{}, 100000)
	cfg := &settings.Settings{
		TaxRate:              0,
		PointsRate:           0.01,
		PointsMaxRedeemRatio: 0.5,
	}

	// total 100, cap = 50, request worth 1000
	breakdown, err := engine.Quote(context.Background(), 1, []Line{eventLine(100, 1, 1)}, "", 100000, cfg)
	require.NoError(t, err)

	assert.Equal(t, 50.0, breakdown.PointsValue)
	assert.Equal(t, int64(5000), breakdown.PointsApplied)
	assert.Equal(t, 50.0, breakdown.Total)
}

func TestQuotePointsLimitedByBalance(t *testing.T) {
	engine := newTestEngine(&fakeCouponSource{}, 200)
	cfg := &settings.Settings{
		TaxRate:              0,
		PointsRate:           0.01,
		PointsMaxRedeemRatio: 0.5,
	}

	breakdown, err := engine.Quote(context.Background(), 1, []Line{eventLine(100, 1, 1)}, "", 500, cfg)
	require.NoError(t, err)

	assert.Equal(t, int64(200), breakdown.PointsApplied)
	assert.Equal(t, 2.0, breakdown.PointsValue)
}

func TestQuotePointsMisconfigured(t *testing.T) {
	engine := newTestEngine(&fakeCouponSource{}, 1000)
	cfg := &settings.Settings{TaxRate: 0.1}

	_, err := engine.Quote(context.Background(), 1, []Line{eventLine(50, 2, 1)}, "", 100, cfg)
	assert.ErrorIs(t, err, models.ErrPointsConfig)
}

func TestQuoteTotalNeverNegative(t *testing.T) {
	src := &fakeCouponSource{coupon: &models.Coupon{
		ID:      3,
		Code:    "BIGFIX",
		Type:    models.CouponTypeFixed,
		Amount:  500,
		StartAt: time.Now().Add(-time.Hour),
		EndAt:   time.Now().Add(time.Hour),
		Status:  models.CouponStatusActive,
	}}
	engine := newTestEngine(src, 0)
	cfg := &settings.Settings{TaxRate: 0}

	breakdown, err := engine.Quote(context.Background(), 1, []Line{eventLine(100, 1, 1)}, "BIGFIX", 0, cfg)
	require.NoError(t, err)

	assert.Equal(t, 100.0, breakdown.CouponDiscount)
	assert.Equal(t, 0.0, breakdown.Total)
}

func TestQuoteDeterministic(t *testing.T) {
	engine := newTestEngine(&fakeCouponSource{}, 300)
	cfg := &settings.Settings{
		TaxRate:              0.08,
		PointsRate:           0.01,
		PointsMaxRedeemRatio: 0.3,
	}
	lines := []Line{eventLine(45.5, 3, 2), eventLine(12.99, 1, 4)}

	first, err := engine.Quote(context.Background(), 1, lines, "", 300, cfg)
	require.NoError(t, err)
	second, err := engine.Quote(context.Background(), 1, lines, "", 300, cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestQuoteEmptyLines(t *testing.T) {
	engine := newTestEngine(&fakeCouponSource{}, 0)
	_, err := engine.Quote(context.Background(), 1, nil, "", 0, &settings.Settings{})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUnitPricePerKind(t *testing.T) {
	start := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		line Line
		want float64
	}{
		{
			name: "event multiplies by attendees",
			line: eventLine(25, 4, 1),
			want: 100,
		},
		{
			name: "catering multiplies by headcount",
			line: Line{
				Service: &models.Service{BasePrice: 18.5},
				Details: &models.BookingDetails{
					Kind:     models.DetailsKindCatering,
					Catering: &models.CateringDetails{People: 12},
				},
				Quantity: 1,
			},
			want: 222,
		},
		{
			name: "restaurant per_person",
			line: Line{
				Service: &models.Service{BasePrice: 30},
				Table:   &models.RestaurantTable{PricingMode: models.TablePricingPerPerson},
				Details: &models.BookingDetails{
					Kind:       models.DetailsKindRestaurant,
					Restaurant: &models.RestaurantDetails{TableID: 1, Guests: 3},
				},
				Quantity: 1,
			},
			want: 90,
		},
		{
			name: "restaurant per_table is flat",
			line: Line{
				Service: &models.Service{BasePrice: 120},
				Table:   &models.RestaurantTable{PricingMode: models.TablePricingPerTable},
				Details: &models.BookingDetails{
					Kind:       models.DetailsKindRestaurant,
					Restaurant: &models.RestaurantDetails{TableID: 1, Guests: 6},
				},
				Quantity: 1,
			},
			want: 120,
		},
		{
			name: "property nights from date range",
			line: Line{
				Service: &models.Service{BasePrice: 80},
				Details: &models.BookingDetails{
					Kind:     models.DetailsKindProperty,
					Property: &models.PropertyDetails{Guests: 2, Nights: 1},
				},
				Quantity: 1,
				Start:    start,
				End:      start.AddDate(0, 0, 3),
			},
			want: 240,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := unitPrice(&tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUnitPriceRestaurantWithoutTable(t *testing.T) {
	line := Line{
		Service: &models.Service{BasePrice: 30},
		Details: &models.BookingDetails{
			Kind:       models.DetailsKindRestaurant,
			Restaurant: &models.RestaurantDetails{TableID: 1, Guests: 3},
		},
		Quantity: 1,
	}
	_, err := unitPrice(&line)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 10.56, Round2(10.556))
	assert.Equal(t, 10.55, Round2(10.554))
	assert.Equal(t, 0.0, Round2(0.004))
	assert.Equal(t, -2.33, Round2(-2.333))
}
