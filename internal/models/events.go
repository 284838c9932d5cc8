package models

import "time"

// Event types
const (
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderFulfilled     = "ORDER_FULFILLED"
	EventTypeOrderPartial       = "ORDER_PARTIALLY_FULFILLED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypeBookingConfirmed   = "BOOKING_CONFIRMED"
	EventTypeBookingCancelled   = "BOOKING_CANCELLED"
	EventTypeBookingCompleted   = "BOOKING_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPaidEvent is published after payment capture completes and
// triggers asynchronous fulfillment
type OrderPaidEvent struct {
	BaseEvent
	OrderID     int64   `json:"order_id"`
	UserID      int64   `json:"user_id"`
	Total       float64 `json:"total"`
	PaymentTxID string  `json:"payment_tx_id"`
}

// OrderFulfilledEvent is published when every order item became a booking
type OrderFulfilledEvent struct {
	BaseEvent
	OrderID    int64   `json:"order_id"`
	UserID     int64   `json:"user_id"`
	BookingIDs []int64 `json:"booking_ids"`
}

// OrderPartiallyFulfilledEvent is published when some items failed;
// failed items need operator reconciliation
type OrderPartiallyFulfilledEvent struct {
	BaseEvent
	OrderID       int64   `json:"order_id"`
	UserID        int64   `json:"user_id"`
	BookingIDs    []int64 `json:"booking_ids"`
	FailedItemIDs []int64 `json:"failed_item_ids"`
}

// PaymentFailedEvent is published when the gateway declines a charge
type PaymentFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Reason  string `json:"reason"`
}

// BookingConfirmedEvent feeds the notification worker
type BookingConfirmedEvent struct {
	BaseEvent
	BookingID int64 `json:"booking_id"`
	UserID    int64 `json:"user_id"`
	ServiceID int64 `json:"service_id"`
}

// BookingCancelledEvent triggers the refund/points-reversal path and
// customer notification
type BookingCancelledEvent struct {
	BaseEvent
	BookingID    int64   `json:"booking_id"`
	UserID       int64   `json:"user_id"`
	ServiceID    int64   `json:"service_id"`
	RefundAmount float64 `json:"refund_amount"`
	PointsReturn int64   `json:"points_return"`
	Reason       string  `json:"reason"`
}

// BookingCompletedEvent triggers points earning and provider settlement
type BookingCompletedEvent struct {
	BaseEvent
	BookingID int64   `json:"booking_id"`
	UserID    int64   `json:"user_id"`
	ServiceID int64   `json:"service_id"`
	Total     float64 `json:"total"`
}
