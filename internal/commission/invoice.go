package commission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/settings"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// InvoiceStore persists settlement records
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetProviderBookingVolume(ctx context.Context, providerID int64, since time.Time) (int, error)
}

// InvoiceGenerator derives customer and provider invoices from a
// completed booking, carrying the commission split and its per-rule
// breakdown.
type InvoiceGenerator struct {
	store      InvoiceStore
	calculator *Calculator
	logger     *zap.Logger
}

// NewInvoiceGenerator creates an invoice generator
func NewInvoiceGenerator(store InvoiceStore, calculator *Calculator) *InvoiceGenerator {
	return &InvoiceGenerator{
		store:      store,
		calculator: calculator,
		logger:     util.GetLogger(),
	}
}

// volume tier window for volume_based commission rules
const volumeWindow = 90 * 24 * time.Hour

// GenerateForBooking writes the customer and provider settlements for
// one paid booking.
func (g *InvoiceGenerator) GenerateForBooking(ctx context.Context, booking *models.Booking, svc *models.Service, cfg *settings.Settings) ([]models.Invoice, error) {
	volume, err := g.store.GetProviderBookingVolume(ctx, svc.ProviderID, time.Now().Add(-volumeWindow))
	if err != nil {
		g.logger.Warn("failed to load provider volume, using low tier",
			zap.Int64("provider_id", svc.ProviderID), zap.Error(err))
		volume = 0
	}

	split := g.calculator.Calculate(ctx, booking.Total, Context{
		ServiceType: svc.ServiceType,
		VolumeTier:  TierForVolume(volume),
		RatingTier:  TierForRating(svc.Rating),
	}, cfg)

	breakdown, err := json.Marshal(split.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal commission breakdown: %w", err)
	}

	invoices := make([]models.Invoice, 0, 2)
	for _, kind := range []string{models.InvoiceKindCustomer, models.InvoiceKindProvider} {
		invoice := models.Invoice{
			BookingID:        sql.NullInt64{Int64: booking.ID, Valid: true},
			OrderID:          booking.OrderID,
			ProviderID:       svc.ProviderID,
			UserID:           booking.UserID,
			Kind:             kind,
			TotalAmount:      booking.Total,
			CommissionAmount: split.CommissionAmount,
			ProviderAmount:   split.ProviderAmount,
			PlatformAmount:   split.PlatformAmount,
			Breakdown:        breakdown,
			Status:           models.InvoiceStatusPaid,
		}
		if err := g.store.CreateInvoice(ctx, &invoice); err != nil {
			return invoices, fmt.Errorf("failed to create %s invoice: %w", kind, err)
		}
		invoices = append(invoices, invoice)
	}

	util.InvoicesGeneratedTotal.Add(float64(len(invoices)))
	g.logger.Info("invoices generated",
		zap.Int64("booking_id", booking.ID),
		zap.Float64("commission", split.CommissionAmount),
		zap.Float64("provider_amount", split.ProviderAmount))

	return invoices, nil
}
