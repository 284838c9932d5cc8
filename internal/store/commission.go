package store

import (
	"context"
	"database/sql"
	"fmt"

	"booking-service/internal/models"
)

// GetActiveCommissionRules retrieves active rules ordered by priority
// descending. Effective-date filtering happens here so the calculator
// only ever sees candidate rules.
func (s *Store) GetActiveCommissionRules(ctx context.Context) ([]models.CommissionRule, error) {
	var rules []models.CommissionRule
	err := s.db.SelectContext(ctx, &rules, `
		SELECT * FROM commission_rules
		WHERE status = 'active'
		  AND (effective_from IS NULL OR effective_from <= NOW())
		  AND (effective_to IS NULL OR effective_to >= NOW())
		ORDER BY priority DESC, id`)
	return rules, err
}

// CreateInvoice persists a settlement record with its rule breakdown
func (s *Store) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	query := `
		INSERT INTO invoices (order_id, booking_id, provider_id, user_id, kind,
			total_amount, commission_amount, provider_amount, platform_amount,
			breakdown, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, invoice, query,
		invoice.OrderID, invoice.BookingID, invoice.ProviderID, invoice.UserID,
		invoice.Kind, invoice.TotalAmount, invoice.CommissionAmount,
		invoice.ProviderAmount, invoice.PlatformAmount, invoice.Breakdown,
		invoice.Status)
}

// GetInvoiceByID retrieves an invoice by ID
func (s *Store) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.GetContext(ctx, &invoice, "SELECT * FROM invoices WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: invoice %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetInvoicesByBookingID retrieves settlements for a booking
func (s *Store) GetInvoicesByBookingID(ctx context.Context, bookingID int64) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.db.SelectContext(ctx, &invoices,
		"SELECT * FROM invoices WHERE booking_id = $1 ORDER BY id", bookingID)
	return invoices, err
}

// VoidInvoicesForBooking marks every settlement of a cancelled booking
// void
func (s *Store) VoidInvoicesForBooking(ctx context.Context, bookingID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE invoices SET status = $1, updated_at = NOW() WHERE booking_id = $2 AND status != $1",
		models.InvoiceStatusVoid, bookingID)
	return err
}

// UpdateInvoiceStatus transitions an invoice's status
func (s *Store) UpdateInvoiceStatus(ctx context.Context, invoiceID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2",
		status, invoiceID)
	return err
}
