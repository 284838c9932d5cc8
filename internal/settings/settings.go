// Package settings loads named platform configuration (tax rate, points
// rates, commission defaults) from the settings store. Values are
// fetched per call and passed explicitly into the pricing and
// commission components; nothing here is cached beyond one quote's
// lifetime, so tests can supply deterministic values per case.
package settings

import (
	"context"
	"fmt"
)

// Setting keys
const (
	KeyTaxRate               = "tax_rate"
	KeyPointsRate            = "points_to_wallet_rate"
	KeyPointsMaxRedeemRatio  = "points_max_redeem_ratio"
	KeyDefaultCommissionRate = "default_commission_rate"
	KeyPointsEarnRate        = "points_earn_rate"
)

// Settings is one snapshot of the platform's pricing configuration
type Settings struct {
	TaxRate               float64
	PointsRate            float64
	PointsMaxRedeemRatio  float64
	DefaultCommissionRate float64
	PointsEarnRate        float64
}

// Source reads named numeric settings (the settings store collaborator)
type Source interface {
	GetSetting(ctx context.Context, key string) (float64, bool, error)
}

// Defaults seed values absent from the store
type Defaults struct {
	TaxRate               float64
	DefaultCommissionRate float64
}

// Loader fetches a settings snapshot per call
type Loader struct {
	source   Source
	defaults Defaults
}

// NewLoader creates a settings loader
func NewLoader(source Source, defaults Defaults) *Loader {
	return &Loader{source: source, defaults: defaults}
}

// Load fetches a fresh snapshot. Missing tax/commission values fall
// back to configured defaults; points settings stay zero when absent
// so redemption fails with a configuration error instead of silently
// applying a bogus rate.
func (l *Loader) Load(ctx context.Context) (*Settings, error) {
	s := &Settings{
		TaxRate:               l.defaults.TaxRate,
		DefaultCommissionRate: l.defaults.DefaultCommissionRate,
	}

	for _, item := range []struct {
		key  string
		dest *float64
	}{
		{KeyTaxRate, &s.TaxRate},
		{KeyPointsRate, &s.PointsRate},
		{KeyPointsMaxRedeemRatio, &s.PointsMaxRedeemRatio},
		{KeyDefaultCommissionRate, &s.DefaultCommissionRate},
		{KeyPointsEarnRate, &s.PointsEarnRate},
	} {
		value, ok, err := l.source.GetSetting(ctx, item.key)
		if err != nil {
			return nil, fmt.Errorf("failed to load setting %s: %w", item.key, err)
		}
		if ok {
			*item.dest = value
		}
	}

	return s, nil
}
