// Package pricing combines base price, tax, coupon discount and points
// discount into a final payable total. The same fixed step order serves
// a single-item quote and a cart-level quote; rounding to two decimals
// happens after every additive step so multi-item carts do not
// accumulate float drift.
package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/settings"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Line is one prospective booking to price
type Line struct {
	Service  *models.Service
	Table    *models.RestaurantTable
	Details  *models.BookingDetails
	Quantity int
	Start    time.Time
	End      time.Time
}

// LinePrice is the per-line portion of a quote
type LinePrice struct {
	UnitPrice float64
	Subtotal  float64
	Tax       float64
}

// PriceBreakdown is the result of a quote. Subtotal + Tax - Discount
// always equals Total within rounding tolerance, except when the
// discount exceeds the pre-discount total and Total clamps at zero.
type PriceBreakdown struct {
	Subtotal       float64          `json:"subtotal"`
	Tax            float64          `json:"tax"`
	CouponDiscount float64          `json:"coupon_discount"`
	PointsValue    float64          `json:"points_value"`
	Discount       float64          `json:"discount"`
	Total          float64          `json:"total"`
	PointsApplied  int64            `json:"points_applied"`
	Coupon         *models.Coupon   `json:"-"`
	Lines          []LinePrice      `json:"lines,omitempty"`
}

// BalanceSource exposes the points ledger balance
type BalanceSource interface {
	GetPointsBalance(ctx context.Context, userID int64) (int64, error)
}

// Engine prices quotes and carts
type Engine struct {
	coupons *CouponValidator
	points  BalanceSource
	logger  *zap.Logger
}

// NewEngine creates a pricing engine
func NewEngine(coupons *CouponValidator, points BalanceSource) *Engine {
	return &Engine{
		coupons: coupons,
		points:  points,
		logger:  util.GetLogger(),
	}
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Quote prices a set of lines and applies coupon and points exactly
// once against the combined total. Quoting is side-effect-free: the
// coupon redemption and points spend are written only at order-commit
// time, so calling Quote twice with identical inputs returns identical
// results.
func (e *Engine) Quote(ctx context.Context, userID int64, lines []Line, couponCode string, pointsRequested int64, cfg *settings.Settings) (*PriceBreakdown, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: nothing to price", models.ErrValidation)
	}

	breakdown := &PriceBreakdown{Lines: make([]LinePrice, 0, len(lines))}

	for i := range lines {
		lp, err := e.priceLine(&lines[i], cfg)
		if err != nil {
			return nil, err
		}
		breakdown.Lines = append(breakdown.Lines, *lp)
		breakdown.Subtotal = Round2(breakdown.Subtotal + lp.Subtotal)
		breakdown.Tax = Round2(breakdown.Tax + lp.Tax)
	}

	runningTotal := Round2(breakdown.Subtotal + breakdown.Tax)

	if couponCode != "" {
		coupon, err := e.coupons.Validate(ctx, couponCode, userID, runningTotal)
		if err != nil {
			return nil, err
		}
		discount, after := Apply(coupon, runningTotal)
		breakdown.Coupon = coupon
		breakdown.CouponDiscount = discount
		runningTotal = after
	}

	if pointsRequested > 0 {
		applied, value, err := e.applyPoints(ctx, userID, pointsRequested, runningTotal, cfg)
		if err != nil {
			return nil, err
		}
		breakdown.PointsApplied = applied
		breakdown.PointsValue = value
		runningTotal = Round2(runningTotal - value)
	}

	breakdown.Discount = Round2(breakdown.CouponDiscount + breakdown.PointsValue)
	breakdown.Total = math.Max(0, Round2(breakdown.Subtotal+breakdown.Tax-breakdown.Discount))

	e.logger.Debug("quote computed",
		zap.Int64("user_id", userID),
		zap.Int("lines", len(lines)),
		zap.Float64("total", breakdown.Total))

	return breakdown, nil
}

// priceLine computes one line's subtotal and tax by the service-type
// specific rule.
func (e *Engine) priceLine(line *Line, cfg *settings.Settings) (*LinePrice, error) {
	if line.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}
	if err := line.Details.Validate(); err != nil {
		return nil, err
	}

	unit, err := unitPrice(line)
	if err != nil {
		return nil, err
	}

	subtotal := Round2(unit * float64(line.Quantity))
	tax := Round2(subtotal * cfg.TaxRate)

	return &LinePrice{UnitPrice: unit, Subtotal: subtotal, Tax: tax}, nil
}

// unitPrice is the price of one line unit before quantity
func unitPrice(line *Line) (float64, error) {
	base := line.Service.BasePrice

	switch line.Details.Kind {
	case models.DetailsKindEvent:
		return Round2(base * float64(line.Details.Event.Attendees)), nil

	case models.DetailsKindCatering:
		return Round2(base * float64(line.Details.Catering.People)), nil

	case models.DetailsKindRestaurant:
		if line.Table == nil {
			return 0, fmt.Errorf("%w: restaurant line requires a table", models.ErrValidation)
		}
		if line.Table.PricingMode == models.TablePricingPerPerson {
			return Round2(base * float64(line.Details.Restaurant.Guests)), nil
		}
		return base, nil

	case models.DetailsKindProperty:
		nights := line.Details.Property.Nights
		if !line.End.IsZero() && !line.Start.IsZero() {
			if d := int(line.End.Sub(line.Start).Hours() / 24); d > 0 {
				nights = d
			}
		}
		return Round2(base * float64(nights)), nil
	}

	return 0, fmt.Errorf("%w: unknown details kind %q", models.ErrValidation, line.Details.Kind)
}

// applyPoints computes the points discount. Both the rate and the
// max-redeem ratio must be configured and positive; a zero value is a
// configuration error, not a silent skip.
func (e *Engine) applyPoints(ctx context.Context, userID, requested int64, runningTotal float64, cfg *settings.Settings) (applied int64, value float64, err error) {
	if cfg.PointsRate <= 0 || cfg.PointsMaxRedeemRatio <= 0 {
		return 0, 0, fmt.Errorf("%w: rate=%v, max_redeem_ratio=%v",
			models.ErrPointsConfig, cfg.PointsRate, cfg.PointsMaxRedeemRatio)
	}

	balance, err := e.points.GetPointsBalance(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read points balance: %w", err)
	}

	eligible := requested
	if balance < eligible {
		eligible = balance
	}
	if eligible <= 0 {
		return 0, 0, nil
	}

	valueEligible := float64(eligible) * cfg.PointsRate
	cap := runningTotal * cfg.PointsMaxRedeemRatio

	value = Round2(math.Min(valueEligible, cap))
	// epsilon guards the floor against float division error
	// (5.0/0.01 evaluates just below 500)
	applied = int64(math.Floor(value/cfg.PointsRate + 1e-9))

	return applied, value, nil
}
