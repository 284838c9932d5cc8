package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Service represents a bookable offering owned by a provider
type Service struct {
	ID             int64        `db:"id" json:"id"`
	ProviderID     int64        `db:"provider_id" json:"provider_id"`
	Name           string       `db:"name" json:"name"`
	ServiceType    string       `db:"service_type" json:"service_type"`
	BasePrice      float64      `db:"base_price" json:"base_price"`
	Currency       string       `db:"currency" json:"currency"`
	Approved       bool         `db:"approved" json:"approved"`
	MaxIndividuals int          `db:"max_individuals" json:"max_individuals"`
	TotalUnits     int          `db:"total_units" json:"total_units"`
	Rating         float64      `db:"rating" json:"rating"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	DeletedAt      sql.NullTime `db:"deleted_at" json:"-"`
}

// Service types
const (
	ServiceTypeEvent      = "event"
	ServiceTypeCatering   = "catering"
	ServiceTypeRestaurant = "restaurant"
	ServiceTypeProperty   = "property"
)

// AvailabilityBlock is a provider-declared unavailable window for a service
type AvailabilityBlock struct {
	ID        int64     `db:"id" json:"id"`
	ServiceID int64     `db:"service_id" json:"service_id"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RestaurantTable is a pool of identical physical table units
type RestaurantTable struct {
	ID                 int64     `db:"id" json:"id"`
	ServiceID          int64     `db:"service_id" json:"service_id"`
	Name               string    `db:"name" json:"name"`
	Quantity           int       `db:"quantity" json:"quantity"`
	Capacity           int       `db:"capacity" json:"capacity"`
	PricingMode        string    `db:"pricing_mode" json:"pricing_mode"`
	ReAvailability     string    `db:"re_availability" json:"re_availability"`
	AutoReleaseMinutes int       `db:"auto_release_minutes" json:"auto_release_minutes"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Table pricing modes
const (
	TablePricingPerPerson = "per_person"
	TablePricingPerTable  = "per_table"
)

// Table re-availability policies
const (
	ReAvailabilityAuto   = "AUTO"
	ReAvailabilityManual = "MANUAL"
)

// TableReservation occupies one table unit for a half-open time range
type TableReservation struct {
	ID         int64         `db:"id" json:"id"`
	TableID    int64         `db:"table_id" json:"table_id"`
	BookingID  sql.NullInt64 `db:"booking_id" json:"booking_id,omitempty"`
	UserID     int64         `db:"user_id" json:"user_id"`
	Guests     int           `db:"guests" json:"guests"`
	StartTime  time.Time     `db:"start_time" json:"start_time"`
	EndTime    time.Time     `db:"end_time" json:"end_time"`
	Status     string        `db:"status" json:"status"`
	ReleasedAt sql.NullTime  `db:"released_at" json:"released_at,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// Table reservation statuses
const (
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusTentative = "tentative"
	ReservationStatusCancelled = "cancelled"
)

// Booking is the durable resource-reservation record
type Booking struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	ServiceID      int64           `db:"service_id" json:"service_id"`
	TableID        sql.NullInt64   `db:"table_id" json:"table_id,omitempty"`
	OrderID        sql.NullInt64   `db:"order_id" json:"order_id,omitempty"`
	StartDate      time.Time       `db:"start_date" json:"start_date"`
	EndDate        time.Time       `db:"end_date" json:"end_date"`
	Quantity       int             `db:"quantity" json:"quantity"`
	Status         string          `db:"status" json:"status"`
	Details        json.RawMessage `db:"details" json:"details"`
	Subtotal       float64         `db:"subtotal" json:"subtotal"`
	Tax            float64         `db:"tax" json:"tax"`
	Discount       float64         `db:"discount" json:"discount"`
	Total          float64         `db:"total" json:"total"`
	PointsUsed     int64           `db:"points_used" json:"points_used"`
	PointsValue    float64         `db:"points_value" json:"points_value"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	PaymentTxID    string          `db:"payment_tx_id" json:"payment_tx_id,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt      sql.NullTime    `db:"deleted_at" json:"-"`
}

// Booking statuses
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
	BookingStatusCompleted = "completed"
)

// Cart is a per-user mutable staging area of prospective line items
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Cart statuses
const (
	CartStatusOpen       = "open"
	CartStatusCheckedOut = "checked_out"
)

// CartItem binds a service, quantity and date range to a cart.
// Cached pricing fields are recomputed on demand and never trusted
// as source of truth at checkout.
type CartItem struct {
	ID        int64           `db:"id" json:"id"`
	CartID    int64           `db:"cart_id" json:"cart_id"`
	ServiceID int64           `db:"service_id" json:"service_id"`
	TableID   sql.NullInt64   `db:"table_id" json:"table_id,omitempty"`
	Quantity  int             `db:"quantity" json:"quantity"`
	StartDate time.Time       `db:"start_date" json:"start_date"`
	EndDate   time.Time       `db:"end_date" json:"end_date"`
	Details   json.RawMessage `db:"details" json:"details"`
	UnitPrice float64         `db:"unit_price" json:"unit_price"`
	Tax       float64         `db:"tax" json:"tax"`
	Discount  float64         `db:"discount" json:"discount"`
	LineTotal float64         `db:"line_total" json:"line_total"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order is the immutable snapshot created at checkout from a cart
type Order struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Subtotal       float64   `db:"subtotal" json:"subtotal"`
	Tax            float64   `db:"tax" json:"tax"`
	Discount       float64   `db:"discount" json:"discount"`
	Total          float64   `db:"total" json:"total"`
	CouponCode     string    `db:"coupon_code" json:"coupon_code,omitempty"`
	CouponDiscount float64   `db:"coupon_discount" json:"coupon_discount"`
	PointsUsed     int64     `db:"points_used" json:"points_used"`
	PointsValue    float64   `db:"points_value" json:"points_value"`
	Status         string    `db:"status" json:"status"`
	PaymentStatus  string    `db:"payment_status" json:"payment_status"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending            = "pending"
	OrderStatusPaid               = "paid"
	OrderStatusFulfilling         = "fulfilling"
	OrderStatusFulfilled          = "fulfilled"
	OrderStatusPartiallyFulfilled = "partially_fulfilled"
	OrderStatusFailed             = "failed"
)

// OrderItem is the join point between the money side (order) and the
// resource side (booking)
type OrderItem struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	ServiceID         int64           `db:"service_id" json:"service_id"`
	TableID           sql.NullInt64   `db:"table_id" json:"table_id,omitempty"`
	Quantity          int             `db:"quantity" json:"quantity"`
	StartDate         time.Time       `db:"start_date" json:"start_date"`
	EndDate           time.Time       `db:"end_date" json:"end_date"`
	Details           json.RawMessage `db:"details" json:"details"`
	UnitPrice         float64         `db:"unit_price" json:"unit_price"`
	LineSubtotal      float64         `db:"line_subtotal" json:"line_subtotal"`
	LineTax           float64         `db:"line_tax" json:"line_tax"`
	FulfillmentStatus string          `db:"fulfillment_status" json:"fulfillment_status"`
	BookingID         sql.NullInt64   `db:"booking_id" json:"booking_id,omitempty"`
	ErrorMessage      string          `db:"error_message" json:"error_message,omitempty"`
}

// Order item fulfillment statuses
const (
	FulfillmentStatusPending   = "pending"
	FulfillmentStatusFulfilled = "fulfilled"
	FulfillmentStatusFailed    = "failed"
)

// Payment represents one gateway charge attempt against an order
type Payment struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	Status       string    `db:"status" json:"status"`
	ProviderTxID string    `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	Amount       float64   `db:"amount" json:"amount"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Payment statuses mirror the gateway's
const (
	PaymentStatusPending        = "pending"
	PaymentStatusCompleted      = "completed"
	PaymentStatusRequiresAction = "requires_action"
	PaymentStatusFailed         = "failed"
)

// Coupon defines a discount code
type Coupon struct {
	ID           int64     `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Type         string    `db:"type" json:"type"`
	Amount       float64   `db:"amount" json:"amount"`
	MinTotal     float64   `db:"min_total" json:"min_total"`
	MaxUses      int       `db:"max_uses" json:"max_uses"`
	PerUserLimit int       `db:"per_user_limit" json:"per_user_limit"`
	StartAt      time.Time `db:"start_at" json:"start_at"`
	EndAt        time.Time `db:"end_at" json:"end_at"`
	Status       string    `db:"status" json:"status"`
}

// Coupon types
const (
	CouponTypePercent = "percent"
	CouponTypeFixed   = "fixed"
)

// Coupon statuses
const (
	CouponStatusActive   = "active"
	CouponStatusInactive = "inactive"
)

// CouponRedemption records one application of a coupon to one order
type CouponRedemption struct {
	ID        int64     `db:"id" json:"id"`
	CouponID  int64     `db:"coupon_id" json:"coupon_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Discount  float64   `db:"discount" json:"discount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PointsEntry is one append-only row of the loyalty points ledger.
// Balance is the signed sum of non-expired rows; rows are never
// updated or deleted after insert.
type PointsEntry struct {
	ID        int64         `db:"id" json:"id"`
	UserID    int64         `db:"user_id" json:"user_id"`
	Type      string        `db:"type" json:"type"`
	Points    int64         `db:"points" json:"points"`
	Source    string        `db:"source" json:"source"`
	BookingID sql.NullInt64 `db:"booking_id" json:"booking_id,omitempty"`
	ExpiresAt sql.NullTime  `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Points entry types
const (
	PointsTypeEarn   = "earn"
	PointsTypeSpend  = "spend"
	PointsTypeExpire = "expire"
	PointsTypeAdjust = "adjust"
)

// CommissionRule is one ranked rule for splitting a paid amount
type CommissionRule struct {
	ID              int64        `db:"id" json:"id"`
	Name            string       `db:"name" json:"name"`
	RuleType        string       `db:"rule_type" json:"rule_type"`
	MatchValue      string       `db:"match_value" json:"match_value"`
	CommissionType  string       `db:"commission_type" json:"commission_type"`
	CommissionValue float64      `db:"commission_value" json:"commission_value"`
	MinCommission   float64      `db:"min_commission" json:"min_commission"`
	MaxCommission   float64      `db:"max_commission" json:"max_commission"`
	Priority        int          `db:"priority" json:"priority"`
	Status          string       `db:"status" json:"status"`
	EffectiveFrom   sql.NullTime `db:"effective_from" json:"effective_from,omitempty"`
	EffectiveTo     sql.NullTime `db:"effective_to" json:"effective_to,omitempty"`
}

// Commission rule types
const (
	RuleTypeServiceType = "service_type"
	RuleTypeVolume      = "volume_based"
	RuleTypeRating      = "rating_based"
	RuleTypeReferral    = "referral_based"
)

// Commission value types
const (
	CommissionTypePercentage = "percentage"
	CommissionTypeFixed      = "fixed"
)

// Invoice is the settlement record splitting a paid amount between
// provider and platform
type Invoice struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          sql.NullInt64   `db:"order_id" json:"order_id,omitempty"`
	BookingID        sql.NullInt64   `db:"booking_id" json:"booking_id,omitempty"`
	ProviderID       int64           `db:"provider_id" json:"provider_id"`
	UserID           int64           `db:"user_id" json:"user_id"`
	Kind             string          `db:"kind" json:"kind"`
	TotalAmount      float64         `db:"total_amount" json:"total_amount"`
	CommissionAmount float64         `db:"commission_amount" json:"commission_amount"`
	ProviderAmount   float64         `db:"provider_amount" json:"provider_amount"`
	PlatformAmount   float64         `db:"platform_amount" json:"platform_amount"`
	Breakdown        json.RawMessage `db:"breakdown" json:"breakdown"`
	Status           string          `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Invoice kinds
const (
	InvoiceKindCustomer = "customer"
	InvoiceKindProvider = "provider"
)

// Invoice statuses
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusVoid      = "void"
	InvoiceStatusCancelled = "cancelled"
)

// ProcessedEvent for worker idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
