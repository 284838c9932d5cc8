package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"booking-service/internal/availability"
	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/settings"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const pointsValidityDays = 365

// BookingStore is the persistence surface of the direct booking flow
type BookingStore interface {
	GetServiceByID(ctx context.Context, id int64) (*models.Service, error)
	GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error)
	ReserveBookingTx(ctx context.Context, booking *models.Booking, table *models.RestaurantTable) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Booking, error)
	GetBookingsByUserID(ctx context.Context, userID int64) ([]models.Booking, error)
	CancelBookingTx(ctx context.Context, bookingID int64) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
	ReleaseTableReservation(ctx context.Context, reservationID int64) error
	GetReservationByBookingID(ctx context.Context, bookingID int64) (*models.TableReservation, error)
	SpendPoints(ctx context.Context, userID, points int64, source string) error
	AppendPointsEntry(ctx context.Context, entry *models.PointsEntry) error
	GetPointsBalance(ctx context.Context, userID int64) (int64, error)
	VoidInvoicesForBooking(ctx context.Context, bookingID int64) error
}

// BookingPublisher publishes booking lifecycle events
type BookingPublisher interface {
	PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error
	PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error
	PublishBookingCompleted(ctx context.Context, event *models.BookingCompletedEvent) error
}

// BookingService handles the direct single-booking flow and the
// booking lifecycle transitions shared with checkout-created bookings.
type BookingService struct {
	store     BookingStore
	pricer    *pricing.Engine
	guard     *CapacityGuard
	gateway   PaymentGateway
	publisher BookingPublisher
	settings  *settings.Loader
	logger    *zap.Logger
}

// NewBookingService creates a booking service
func NewBookingService(
	st BookingStore,
	pricer *pricing.Engine,
	guard *CapacityGuard,
	gateway PaymentGateway,
	publisher BookingPublisher,
	loader *settings.Loader,
) *BookingService {
	return &BookingService{
		store:     st,
		pricer:    pricer,
		guard:     guard,
		gateway:   gateway,
		publisher: publisher,
		settings:  loader,
		logger:    util.GetLogger(),
	}
}

// CreateBookingRequest is a direct booking submission, bypassing the cart
type CreateBookingRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	ServiceID      int64           `json:"service_id" binding:"required"`
	TableID        int64           `json:"table_id,omitempty"`
	Quantity       int             `json:"quantity"`
	StartDate      time.Time       `json:"start_date" binding:"required"`
	EndDate        time.Time       `json:"end_date" binding:"required"`
	Details        json.RawMessage `json:"details" binding:"required"`
	PointsToUse    int64           `json:"points_to_use,omitempty"`
	PaymentMethod  string          `json:"payment_method" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// CreateBooking runs the direct flow: price, check capacity, spend
// points, reserve, charge. Failures after the reservation compensate
// the points spend and cancel the booking.
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateBooking")
	defer span.End()

	if !req.EndDate.After(req.StartDate) {
		return nil, fmt.Errorf("%w: end date must be after start date", models.ErrValidation)
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if existing, err := s.store.GetBookingByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	} else if existing != nil {
		s.logger.Info("booking replayed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("booking_id", existing.ID))
		return existing, nil
	}

	svc, err := s.store.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Approved {
		return nil, fmt.Errorf("%w: service %d", models.ErrServiceNotActive, req.ServiceID)
	}

	details, err := models.ParseDetails(req.Details)
	if err != nil {
		return nil, err
	}

	var table *models.RestaurantTable
	if details.Kind == models.DetailsKindRestaurant && details.Restaurant != nil {
		req.TableID = details.Restaurant.TableID
	}
	if req.TableID != 0 {
		table, err = s.store.GetTableByID(ctx, req.TableID)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	line := pricing.Line{
		Service:  svc,
		Table:    table,
		Details:  details,
		Quantity: req.Quantity,
		Start:    req.StartDate,
		End:      req.EndDate,
	}
	quote, err := s.pricer.Quote(ctx, req.UserID, []pricing.Line{line}, "", req.PointsToUse, cfg)
	if err != nil {
		return nil, err
	}

	holdReq := availability.Request{
		ServiceID: req.ServiceID,
		TableID:   req.TableID,
		Start:     req.StartDate,
		End:       req.EndDate,
		Quantity:  req.Quantity,
	}
	if svc.MaxIndividuals > 0 {
		holdReq.Headcount = details.Headcount() * req.Quantity
	}
	result, err := s.guard.CheckAndHold(ctx, holdReq)
	if err != nil {
		return nil, err
	}
	if !result.Available {
		util.AvailabilityConflictsTotal.Inc()
		return nil, models.NewConflict(req.ServiceID, req.TableID, result.Reason)
	}

	if quote.PointsApplied > 0 {
		if err := s.store.SpendPoints(ctx, req.UserID, quote.PointsApplied,
			fmt.Sprintf("booking:%s", req.IdempotencyKey)); err != nil {
			s.guard.Release(ctx, holdReq)
			return nil, err
		}
	}

	booking := &models.Booking{
		UserID:         req.UserID,
		ServiceID:      req.ServiceID,
		TableID:        nullableID(req.TableID),
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Quantity:       req.Quantity,
		Status:         models.BookingStatusPending,
		Details:        req.Details,
		Subtotal:       quote.Subtotal,
		Tax:            quote.Tax,
		Discount:       quote.Discount,
		Total:          quote.Total,
		PointsUsed:     quote.PointsApplied,
		PointsValue:    quote.PointsValue,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := s.store.ReserveBookingTx(ctx, booking, table); err != nil {
		util.SpanError(span, err)
		s.guard.Release(ctx, holdReq)
		s.refundPoints(ctx, req.UserID, quote.PointsApplied, booking.IdempotencyKey)
		if models.IsAvailabilityConflict(err) {
			util.AvailabilityConflictsTotal.Inc()
		}
		return nil, err
	}

	if err := s.charge(ctx, booking, req.PaymentMethod); err != nil {
		// Compensation path: the reserved slot and spent points go back.
		s.guard.Release(ctx, holdReq)
		if cancelErr := s.store.CancelBookingTx(ctx, booking.ID); cancelErr != nil {
			s.logger.Error("failed to cancel booking after payment failure",
				zap.Int64("booking_id", booking.ID), zap.Error(cancelErr))
		}
		s.refundPoints(ctx, req.UserID, quote.PointsApplied, booking.IdempotencyKey)
		return nil, err
	}

	if err := s.store.UpdateBookingStatus(ctx, booking.ID, models.BookingStatusConfirmed); err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	booking.Status = models.BookingStatusConfirmed
	util.BookingsCreatedTotal.Inc()

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
	if err := s.publisher.PublishBookingConfirmed(ctx, event); err != nil {
		s.logger.Error("failed to publish BookingConfirmed event",
			zap.Int64("booking_id", booking.ID), zap.Error(err))
	}

	return booking, nil
}

func (s *BookingService) charge(ctx context.Context, booking *models.Booking, method string) error {
	if booking.Total <= 0 {
		return nil
	}

	util.PaymentAttemptsTotal.Inc()
	chargeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := s.gateway.Charge(chargeCtx, ChargeRequest{
		Amount:           booking.Total,
		Currency:         "USD",
		Method:           method,
		IdempotencyToken: fmt.Sprintf("booking-%s", booking.IdempotencyKey),
	})
	if err != nil {
		util.PaymentFailedTotal.Inc()
		return fmt.Errorf("%w: gateway charge failed: %v", models.ErrTransientInfra, err)
	}
	if result.Status != models.PaymentStatusCompleted {
		util.PaymentFailedTotal.Inc()
		return models.ErrPaymentDeclined
	}

	util.PaymentSuccessTotal.Inc()
	booking.PaymentTxID = result.TransactionID
	return nil
}

// refundPoints writes a compensating adjust entry; the refunded points
// never expire because we cannot recover the original expiry buckets.
func (s *BookingService) refundPoints(ctx context.Context, userID, points int64, source string) {
	if points <= 0 {
		return
	}
	entry := &models.PointsEntry{
		UserID: userID,
		Type:   models.PointsTypeAdjust,
		Points: points,
		Source: fmt.Sprintf("refund:%s", source),
	}
	if err := s.store.AppendPointsEntry(ctx, entry); err != nil {
		s.logger.Error("failed to refund points",
			zap.Int64("user_id", userID),
			zap.Int64("points", points),
			zap.Error(err))
	}
}

// Cancel cancels a booking, returns its spent points and voids its
// invoices. Completed bookings cannot be cancelled.
func (s *BookingService) Cancel(ctx context.Context, userID, bookingID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "BookingService.Cancel")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.UserID != userID {
		return fmt.Errorf("%w: booking %d", models.ErrNotFound, bookingID)
	}

	if err := s.store.CancelBookingTx(ctx, bookingID); err != nil {
		return err
	}
	util.BookingsCancelledTotal.Inc()

	if booking.PointsUsed > 0 {
		s.refundPoints(ctx, userID, booking.PointsUsed, booking.IdempotencyKey)
	}

	if err := s.store.VoidInvoicesForBooking(ctx, bookingID); err != nil {
		s.logger.Error("failed to void invoices",
			zap.Int64("booking_id", bookingID), zap.Error(err))
	}

	event := &models.BookingCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBookingCancelled,
			Timestamp: time.Now(),
		},
		BookingID:    bookingID,
		UserID:       userID,
		ServiceID:    booking.ServiceID,
		RefundAmount: booking.Total,
		PointsReturn: booking.PointsUsed,
		Reason:       reason,
	}
	if err := s.publisher.PublishBookingCancelled(ctx, event); err != nil {
		s.logger.Error("failed to publish BookingCancelled event",
			zap.Int64("booking_id", bookingID), zap.Error(err))
	}
	return nil
}

// Complete marks a confirmed booking completed and credits earn points
// against the amount actually paid in money.
func (s *BookingService) Complete(ctx context.Context, bookingID int64) error {
	ctx, span := util.StartSpan(ctx, "BookingService.Complete")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusConfirmed {
		return fmt.Errorf("%w: booking %d is %s, not confirmed", models.ErrValidation, bookingID, booking.Status)
	}

	if err := s.store.UpdateBookingStatus(ctx, bookingID, models.BookingStatusCompleted); err != nil {
		return err
	}

	cfg, err := s.settings.Load(ctx)
	if err == nil && cfg.PointsEarnRate > 0 {
		// Points value already redeemed does not earn points again.
		paid := math.Max(0, booking.Total)
		earned := int64(math.Floor(paid * cfg.PointsEarnRate))
		if earned > 0 {
			entry := &models.PointsEntry{
				UserID:    booking.UserID,
				Type:      models.PointsTypeEarn,
				Points:    earned,
				Source:    fmt.Sprintf("booking:%d", bookingID),
				BookingID: sql.NullInt64{Int64: bookingID, Valid: true},
				ExpiresAt: sql.NullTime{Time: time.Now().AddDate(0, 0, pointsValidityDays), Valid: true},
			}
			if err := s.store.AppendPointsEntry(ctx, entry); err != nil {
				s.logger.Error("failed to credit earn points",
					zap.Int64("booking_id", bookingID), zap.Error(err))
			}
		}
	}

	event := &models.BookingCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBookingCompleted,
			Timestamp: time.Now(),
		},
		BookingID: bookingID,
		UserID:    booking.UserID,
		ServiceID: booking.ServiceID,
		Total:     booking.Total,
	}
	if err := s.publisher.PublishBookingCompleted(ctx, event); err != nil {
		s.logger.Error("failed to publish BookingCompleted event",
			zap.Int64("booking_id", bookingID), zap.Error(err))
	}
	return nil
}

// ReleaseTable frees a MANUAL-mode table reservation so the table can
// accept new bookings before its reservation window ends.
func (s *BookingService) ReleaseTable(ctx context.Context, bookingID int64) error {
	reservation, err := s.store.GetReservationByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	table, err := s.store.GetTableByID(ctx, reservation.TableID)
	if err != nil {
		return err
	}
	if table.ReAvailability != models.ReAvailabilityManual {
		return fmt.Errorf("%w: table %d releases automatically", models.ErrValidation, table.ID)
	}
	return s.store.ReleaseTableReservation(ctx, reservation.ID)
}

// GetBooking retrieves one booking scoped to its owner
func (s *BookingService) GetBooking(ctx context.Context, userID, bookingID int64) (*models.Booking, error) {
	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, fmt.Errorf("%w: booking %d", models.ErrNotFound, bookingID)
	}
	return booking, nil
}

// ListBookings lists a user's bookings
func (s *BookingService) ListBookings(ctx context.Context, userID int64) ([]models.Booking, error) {
	return s.store.GetBookingsByUserID(ctx, userID)
}

// PointsBalance returns the user's live points balance
func (s *BookingService) PointsBalance(ctx context.Context, userID int64) (int64, error) {
	return s.store.GetPointsBalance(ctx, userID)
}

func nullableID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
