package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"booking-service/internal/models"

	"github.com/lib/pq"
)

// ErrDuplicateOrder signals that an order with the same
// (user_id, idempotency_key) already exists. The unique constraint,
// not an application-level lookup, is what survives concurrent
// duplicate submissions; callers re-read the original order on this.
var ErrDuplicateOrder = errors.New("duplicate order for idempotency key")

const pqUniqueViolation = "23505"

// CreateOrderParams carries everything the order-commit transaction writes.
type CreateOrderParams struct {
	Order       *models.Order
	Items       []models.OrderItem
	PointsSpend int64
	Coupon      *models.Coupon
}

// CreateOrderTx creates the order snapshot, its items, the points spend
// and the coupon redemption inside one transaction. If the points
// balance is insufficient at commit time, or a coupon cap is exceeded,
// the whole transaction rolls back and no order is created.
func (s *Store) CreateOrderTx(ctx context.Context, p CreateOrderParams) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order := p.Order
	query := `
		INSERT INTO orders (user_id, subtotal, tax, discount, total,
			coupon_code, coupon_discount, points_used, points_value,
			status, payment_status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err = tx.GetContext(ctx, order, query,
		order.UserID, order.Subtotal, order.Tax, order.Discount, order.Total,
		order.CouponCode, order.CouponDiscount, order.PointsUsed, order.PointsValue,
		order.Status, order.PaymentStatus, order.IdempotencyKey)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range p.Items {
		item := &p.Items[i]
		item.OrderID = order.ID
		err = tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, service_id, table_id, quantity,
				start_date, end_date, details, unit_price, line_subtotal,
				line_tax, fulfillment_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
			item.OrderID, item.ServiceID, item.TableID, item.Quantity,
			item.StartDate, item.EndDate, item.Details, item.UnitPrice,
			item.LineSubtotal, item.LineTax, models.FulfillmentStatusPending)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if p.PointsSpend > 0 {
		if err := spendPointsTx(ctx, tx, order.UserID, p.PointsSpend, order.ID); err != nil {
			return err
		}
	}

	if p.Coupon != nil {
		if err := redeemCouponTx(ctx, tx, p.Coupon, order.UserID, order.ID, order.CouponDiscount); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by user and idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// UpdateOrderPaymentStatus updates the payment-side status of an order
func (s *Store) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status, paymentStatus string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, payment_status = $2, updated_at = NOW() WHERE id = $3",
		status, paymentStatus, orderID)
	return err
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderItemFulfillment records the outcome of one item's fulfillment
func (s *Store) UpdateOrderItemFulfillment(ctx context.Context, itemID int64, status string, bookingID sql.NullInt64, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET fulfillment_status = $1, booking_id = $2, error_message = $3 WHERE id = $4",
		status, bookingID, errorMessage, itemID)
	return err
}

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, status, provider_tx_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.Status, payment.ProviderTxID, payment.Amount)
}

// GetPaymentByOrderID retrieves the latest payment for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment not found for order: %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus updates payment status
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID int64, status, providerTxID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, provider_tx_id = $2, updated_at = NOW() WHERE id = $3",
		status, providerTxID, paymentID)
	return err
}
