package worker

import (
	"context"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentWorker consumes ORDER_PAID events and materializes
// bookings for each order item
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(consumer *broker.Consumer, fulfiller *service.Fulfiller) *FulfillmentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPaid(fulfiller.HandleOrderPaid)

	return &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("stopping fulfillment worker")
	return w.consumer.Close()
}

// NotificationWorker consumes booking lifecycle events and dispatches
// customer notifications
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier service.Notifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnBookingConfirmed(func(ctx context.Context, event *models.BookingConfirmedEvent) error {
		return notifier.Notify(ctx, event.UserID, event.EventType, map[string]interface{}{
			"booking_id": event.BookingID,
			"service_id": event.ServiceID,
		})
	})
	eventHandler.OnBookingCancelled(func(ctx context.Context, event *models.BookingCancelledEvent) error {
		return notifier.Notify(ctx, event.UserID, event.EventType, map[string]interface{}{
			"booking_id":    event.BookingID,
			"refund_amount": event.RefundAmount,
			"points_return": event.PointsReturn,
			"reason":        event.Reason,
		})
	})
	eventHandler.OnBookingCompleted(func(ctx context.Context, event *models.BookingCompletedEvent) error {
		return notifier.Notify(ctx, event.UserID, event.EventType, map[string]interface{}{
			"booking_id": event.BookingID,
			"total":      event.Total,
		})
	})

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the notification worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the notification worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("stopping notification worker")
	return w.consumer.Close()
}
