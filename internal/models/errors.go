package models

import (
	"errors"
	"fmt"
	"strings"
)

// Stable error kinds surfaced to API clients
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrServiceNotActive = errors.New("service is not approved for booking")

	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponInactive     = errors.New("coupon is not active")
	ErrCouponNotStarted   = errors.New("coupon is not yet valid")
	ErrCouponExpired      = errors.New("coupon has expired")
	ErrCouponMinTotal     = errors.New("order total below coupon minimum")
	ErrCouponMaxUses      = errors.New("coupon usage limit reached")
	ErrCouponUserLimit    = errors.New("coupon per-user limit reached")
	ErrPointsConfig       = errors.New("points redemption is not configured")
	ErrInsufficientPoints = errors.New("insufficient points balance")

	ErrPaymentDeclined = errors.New("payment declined")
	ErrTransientInfra  = errors.New("transient infrastructure error")
)

// AvailabilityConflictError reports which requested items lack capacity.
// It is a business outcome, safe to retry after re-quoting, never a
// system fault.
type AvailabilityConflictError struct {
	Conflicts []ItemConflict
}

// ItemConflict names one failing item so the client can re-offer
// alternatives.
type ItemConflict struct {
	ServiceID int64  `json:"service_id"`
	TableID   int64  `json:"table_id,omitempty"`
	Reason    string `json:"reason"`
}

func (e *AvailabilityConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "availability conflict"
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("service %d: %s", c.ServiceID, c.Reason))
	}
	return "availability conflict: " + strings.Join(parts, "; ")
}

// IsAvailabilityConflict reports whether err is (or wraps) an
// availability conflict.
func IsAvailabilityConflict(err error) bool {
	var conflict *AvailabilityConflictError
	return errors.As(err, &conflict)
}

// NewConflict builds a single-item availability conflict.
func NewConflict(serviceID, tableID int64, reason string) *AvailabilityConflictError {
	return &AvailabilityConflictError{
		Conflicts: []ItemConflict{{ServiceID: serviceID, TableID: tableID, Reason: reason}},
	}
}

// IsCouponError reports whether err is any coupon business rejection.
func IsCouponError(err error) bool {
	switch {
	case errors.Is(err, ErrCouponNotFound),
		errors.Is(err, ErrCouponInactive),
		errors.Is(err, ErrCouponNotStarted),
		errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrCouponMinTotal),
		errors.Is(err, ErrCouponMaxUses),
		errors.Is(err, ErrCouponUserLimit):
		return true
	}
	return false
}
