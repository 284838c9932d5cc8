// Package commission splits paid amounts between provider and platform
// by ranked commission rules, and derives the settlement invoices.
package commission

import (
	"context"
	"math"

	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/settings"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// RuleSource exposes the active, effective commission rules
type RuleSource interface {
	GetActiveCommissionRules(ctx context.Context) ([]models.CommissionRule, error)
}

// Context describes the booking being settled, used for rule matching
type Context struct {
	ServiceType string
	VolumeTier  string
	RatingTier  string
	ReferralTag string
}

// RuleContribution is one rule's share of the commission, persisted on
// the invoice breakdown for dispute resolution.
type RuleContribution struct {
	RuleID    int64   `json:"rule_id"`
	RuleName  string  `json:"rule_name"`
	RuleType  string  `json:"rule_type"`
	ValueType string  `json:"value_type"`
	Value     float64 `json:"value"`
	Amount    float64 `json:"amount"`
	Clamped   bool    `json:"clamped,omitempty"`
}

// Split is the computed commission split
type Split struct {
	CommissionAmount float64            `json:"commission_amount"`
	ProviderAmount   float64            `json:"provider_amount"`
	PlatformAmount   float64            `json:"platform_amount"`
	Breakdown        []RuleContribution `json:"breakdown"`
	UsedDefault      bool               `json:"used_default,omitempty"`
}

// Calculator applies ranked commission rules
type Calculator struct {
	rules  RuleSource
	logger *zap.Logger
}

// NewCalculator creates a commission calculator
func NewCalculator(rules RuleSource) *Calculator {
	return &Calculator{rules: rules, logger: util.GetLogger()}
}

// Volume tiers for volume_based rules
const (
	VolumeTierLow    = "low"
	VolumeTierMedium = "medium"
	VolumeTierHigh   = "high"
)

// TierForVolume maps a provider's trailing booking count to a tier
func TierForVolume(count int) string {
	switch {
	case count >= 100:
		return VolumeTierHigh
	case count >= 20:
		return VolumeTierMedium
	default:
		return VolumeTierLow
	}
}

// TierForRating maps a provider rating to a tier
func TierForRating(rating float64) string {
	switch {
	case rating >= 4.5:
		return "excellent"
	case rating >= 3.5:
		return "good"
	default:
		return "standard"
	}
}

// Calculate splits totalAmount by every matching active rule, each
// contribution clamped to its own min/max. If no rule matches, the
// configured default rate applies; the fallback never fails.
func (c *Calculator) Calculate(ctx context.Context, totalAmount float64, bctx Context, cfg *settings.Settings) *Split {
	rules, err := c.rules.GetActiveCommissionRules(ctx)
	if err != nil {
		c.logger.Warn("failed to load commission rules, using default rate", zap.Error(err))
		return c.defaultSplit(totalAmount, cfg)
	}

	split := &Split{Breakdown: make([]RuleContribution, 0, 2)}

	for _, rule := range rules {
		if !matches(&rule, bctx) {
			continue
		}

		var amount float64
		switch rule.CommissionType {
		case models.CommissionTypePercentage:
			amount = pricing.Round2(totalAmount * rule.CommissionValue / 100)
		case models.CommissionTypeFixed:
			amount = pricing.Round2(rule.CommissionValue)
		default:
			continue
		}

		contribution := RuleContribution{
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			RuleType:  rule.RuleType,
			ValueType: rule.CommissionType,
			Value:     rule.CommissionValue,
			Amount:    amount,
		}

		if rule.MinCommission > 0 && amount < rule.MinCommission {
			contribution.Amount = pricing.Round2(rule.MinCommission)
			contribution.Clamped = true
		}
		if rule.MaxCommission > 0 && contribution.Amount > rule.MaxCommission {
			contribution.Amount = pricing.Round2(rule.MaxCommission)
			contribution.Clamped = true
		}

		split.Breakdown = append(split.Breakdown, contribution)
		split.CommissionAmount = pricing.Round2(split.CommissionAmount + contribution.Amount)
	}

	if len(split.Breakdown) == 0 {
		return c.defaultSplit(totalAmount, cfg)
	}

	// Commission can never exceed the amount being split.
	split.CommissionAmount = math.Min(split.CommissionAmount, totalAmount)
	split.ProviderAmount = pricing.Round2(totalAmount - split.CommissionAmount)
	split.PlatformAmount = split.CommissionAmount

	return split
}

// defaultSplit applies the configured default rate
func (c *Calculator) defaultSplit(totalAmount float64, cfg *settings.Settings) *Split {
	commission := pricing.Round2(totalAmount * cfg.DefaultCommissionRate / 100)
	if commission > totalAmount {
		commission = totalAmount
	}
	return &Split{
		CommissionAmount: commission,
		ProviderAmount:   pricing.Round2(totalAmount - commission),
		PlatformAmount:   commission,
		UsedDefault:      true,
	}
}

// matches reports whether a rule applies to the booking context
func matches(rule *models.CommissionRule, bctx Context) bool {
	switch rule.RuleType {
	case models.RuleTypeServiceType:
		return rule.MatchValue == bctx.ServiceType
	case models.RuleTypeVolume:
		return rule.MatchValue == bctx.VolumeTier
	case models.RuleTypeRating:
		return rule.MatchValue == bctx.RatingTier
	case models.RuleTypeReferral:
		return bctx.ReferralTag != "" && rule.MatchValue == bctx.ReferralTag
	}
	return false
}
