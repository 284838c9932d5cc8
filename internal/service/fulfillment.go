package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"booking-service/internal/commission"
	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/settings"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FulfillmentStore is the persistence surface of the async pipeline
type FulfillmentStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderItemFulfillment(ctx context.Context, itemID int64, status string, bookingID sql.NullInt64, errorMessage string) error
	GetServiceByID(ctx context.Context, id int64) (*models.Service, error)
	GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error)
	ReserveBookingTx(ctx context.Context, booking *models.Booking, table *models.RestaurantTable) error
	GetBookingByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Booking, error)
}

// FulfillmentPublisher publishes terminal fulfillment events
type FulfillmentPublisher interface {
	PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error
	PublishOrderPartiallyFulfilled(ctx context.Context, event *models.OrderPartiallyFulfilledEvent) error
	PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error
}

// Fulfiller materializes a paid order into one booking per item. Items
// are independent: one item's failure degrades the order to
// partially_fulfilled instead of aborting the rest.
type Fulfiller struct {
	store     FulfillmentStore
	invoices  *commission.InvoiceGenerator
	publisher FulfillmentPublisher
	settings  *settings.Loader
	logger    *zap.Logger
}

// NewFulfiller creates a fulfiller
func NewFulfiller(st FulfillmentStore, invoices *commission.InvoiceGenerator, publisher FulfillmentPublisher, loader *settings.Loader) *Fulfiller {
	return &Fulfiller{
		store:     st,
		invoices:  invoices,
		publisher: publisher,
		settings:  loader,
		logger:    util.GetLogger(),
	}
}

// HandleOrderPaid consumes one ORDER_PAID event. Re-delivery is safe:
// the processed_events table dedups at the event level and booking
// idempotency keys dedup at the item level.
func (f *Fulfiller) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	ctx, span := util.StartSpan(ctx, "Fulfiller.HandleOrderPaid")
	defer span.End()

	util.SpanInt64(span, "order_id", event.OrderID)

	start := time.Now()
	defer func() {
		util.FulfillmentLatency.Observe(time.Since(start).Seconds())
	}()

	processed, err := f.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event dedup: %w", err)
	}
	if processed {
		f.logger.Info("skipping already processed event",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.OrderID))
		return nil
	}

	order, err := f.store.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", event.OrderID, err)
	}
	if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusFulfilling {
		f.logger.Warn("order not in fulfillable state, skipping",
			zap.Int64("order_id", order.ID),
			zap.String("status", order.Status))
		return f.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}

	if err := f.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusFulfilling); err != nil {
		return fmt.Errorf("failed to mark order fulfilling: %w", err)
	}

	items, err := f.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	discounts := prorateDiscount(order, items)

	var bookingIDs, failedItemIDs []int64
	for i := range items {
		item := &items[i]
		if item.FulfillmentStatus == models.FulfillmentStatusFulfilled {
			if item.BookingID.Valid {
				bookingIDs = append(bookingIDs, item.BookingID.Int64)
			}
			continue
		}

		booking, itemErr := f.fulfillItem(ctx, order, item, discounts[i], event.PaymentTxID)
		if itemErr != nil {
			failedItemIDs = append(failedItemIDs, item.ID)
			util.FulfillmentItemsTotal.WithLabelValues("failed").Inc()
			f.logger.Error("order item fulfillment failed",
				zap.Int64("order_id", order.ID),
				zap.Int64("item_id", item.ID),
				zap.Error(itemErr))
			if err := f.store.UpdateOrderItemFulfillment(ctx, item.ID,
				models.FulfillmentStatusFailed, sql.NullInt64{}, itemErr.Error()); err != nil {
				return fmt.Errorf("failed to record item failure: %w", err)
			}
			continue
		}

		bookingIDs = append(bookingIDs, booking.ID)
		util.FulfillmentItemsTotal.WithLabelValues("fulfilled").Inc()
		util.BookingsCreatedTotal.Inc()

		if err := f.store.UpdateOrderItemFulfillment(ctx, item.ID,
			models.FulfillmentStatusFulfilled,
			sql.NullInt64{Int64: booking.ID, Valid: true}, ""); err != nil {
			return fmt.Errorf("failed to record item fulfillment: %w", err)
		}

		f.generateInvoices(ctx, booking)
		f.publishBookingConfirmed(ctx, booking)
	}

	finalStatus := models.OrderStatusFulfilled
	if len(failedItemIDs) > 0 {
		finalStatus = models.OrderStatusPartiallyFulfilled
	}
	if err := f.store.UpdateOrderStatus(ctx, order.ID, finalStatus); err != nil {
		return fmt.Errorf("failed to set final order status: %w", err)
	}

	f.publishFinal(ctx, order, finalStatus, bookingIDs, failedItemIDs)

	f.logger.Info("order fulfillment completed",
		zap.Int64("order_id", order.ID),
		zap.String("status", finalStatus),
		zap.Int("fulfilled", len(bookingIDs)),
		zap.Int("failed", len(failedItemIDs)))

	return f.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// fulfillItem reserves one booking for one order item. The idempotency
// key is derived from (order, item) so re-delivery finds the earlier
// booking instead of reserving twice.
func (f *Fulfiller) fulfillItem(ctx context.Context, order *models.Order, item *models.OrderItem, discount float64, paymentTxID string) (*models.Booking, error) {
	key := fmt.Sprintf("order-%d-item-%d", order.ID, item.ID)

	if existing, err := f.store.GetBookingByIdempotencyKey(ctx, order.UserID, key); err != nil {
		return nil, fmt.Errorf("failed to check booking dedup: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	var table *models.RestaurantTable
	if item.TableID.Valid {
		t, err := f.store.GetTableByID(ctx, item.TableID.Int64)
		if err != nil {
			return nil, err
		}
		table = t
	}

	booking := &models.Booking{
		UserID:         order.UserID,
		ServiceID:      item.ServiceID,
		TableID:        item.TableID,
		OrderID:        sql.NullInt64{Int64: order.ID, Valid: true},
		StartDate:      item.StartDate,
		EndDate:        item.EndDate,
		Quantity:       item.Quantity,
		Status:         models.BookingStatusConfirmed,
		Details:        item.Details,
		Subtotal:       item.LineSubtotal,
		Tax:            item.LineTax,
		Discount:       discount,
		Total:          pricing.Round2(item.LineSubtotal + item.LineTax - discount),
		IdempotencyKey: key,
		PaymentTxID:    paymentTxID,
	}

	if err := f.store.ReserveBookingTx(ctx, booking, table); err != nil {
		return nil, err
	}
	return booking, nil
}

// prorateDiscount spreads the order-level discount across items in
// proportion to each item's gross, with the final item taking the
// rounding remainder so the parts always sum to the whole.
func prorateDiscount(order *models.Order, items []models.OrderItem) []float64 {
	out := make([]float64, len(items))
	if order.Discount <= 0 || len(items) == 0 {
		return out
	}

	var gross float64
	for i := range items {
		gross += items[i].LineSubtotal + items[i].LineTax
	}
	if gross <= 0 {
		return out
	}

	var assigned float64
	for i := range items {
		if i == len(items)-1 {
			out[i] = pricing.Round2(order.Discount - assigned)
			break
		}
		share := pricing.Round2(order.Discount * (items[i].LineSubtotal + items[i].LineTax) / gross)
		out[i] = share
		assigned += share
	}
	return out
}

func (f *Fulfiller) generateInvoices(ctx context.Context, booking *models.Booking) {
	svc, err := f.store.GetServiceByID(ctx, booking.ServiceID)
	if err != nil {
		f.logger.Error("failed to load service for invoicing",
			zap.Int64("booking_id", booking.ID), zap.Error(err))
		return
	}
	cfg, err := f.settings.Load(ctx)
	if err != nil {
		f.logger.Error("failed to load settings for invoicing",
			zap.Int64("booking_id", booking.ID), zap.Error(err))
		return
	}
	// Invoicing failures never fail the booking; they surface in logs
	// and can be regenerated.
	if _, err := f.invoices.GenerateForBooking(ctx, booking, svc, cfg); err != nil {
		f.logger.Error("failed to generate invoices",
			zap.Int64("booking_id", booking.ID), zap.Error(err))
	}
}

func (f *Fulfiller) publishBookingConfirmed(ctx context.Context, booking *models.Booking) {
	event := &models.BookingConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBookingConfirmed,
			Timestamp: time.Now(),
		},
		BookingID: booking.ID,
		UserID:    booking.UserID,
		ServiceID: booking.ServiceID,
	}
	if err := f.publisher.PublishBookingConfirmed(ctx, event); err != nil {
		f.logger.Error("failed to publish BookingConfirmed event",
			zap.Int64("booking_id", booking.ID), zap.Error(err))
	}
}

func (f *Fulfiller) publishFinal(ctx context.Context, order *models.Order, status string, bookingIDs, failedItemIDs []int64) {
	base := models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: models.EventTypeOrderFulfilled,
		Timestamp: time.Now(),
	}

	if status == models.OrderStatusFulfilled {
		event := &models.OrderFulfilledEvent{
			BaseEvent:  base,
			OrderID:    order.ID,
			UserID:     order.UserID,
			BookingIDs: bookingIDs,
		}
		if err := f.publisher.PublishOrderFulfilled(ctx, event); err != nil {
			f.logger.Error("failed to publish OrderFulfilled event",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
		return
	}

	base.EventType = models.EventTypeOrderPartial
	event := &models.OrderPartiallyFulfilledEvent{
		BaseEvent:     base,
		OrderID:       order.ID,
		UserID:        order.UserID,
		BookingIDs:    bookingIDs,
		FailedItemIDs: failedItemIDs,
	}
	if err := f.publisher.PublishOrderPartiallyFulfilled(ctx, event); err != nil {
		f.logger.Error("failed to publish OrderPartiallyFulfilled event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}
