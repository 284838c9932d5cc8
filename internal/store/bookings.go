package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"booking-service/internal/models"
)

// Occupancy is one occupying reservation row as seen by the
// availability engine. EndTime already includes any AUTO cooldown for
// table reservations when loaded via the table queries. Headcount is
// the total individuals the row occupies, zero when the booking
// details carry no headcount.
type Occupancy struct {
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	Quantity  int       `db:"quantity"`
	Headcount int       `db:"headcount"`
}

// bookingHeadcountExpr extracts the per-unit headcount from a booking's
// details JSON, whichever variant is present.
const bookingHeadcountExpr = `COALESCE(
	(details #>> '{event,attendees}')::int,
	(details #>> '{catering,people}')::int,
	(details #>> '{restaurant,guests}')::int,
	(details #>> '{property,guests}')::int,
	0)`

// ListServiceOccupancy returns occupying bookings for a service that
// overlap the half-open window [start, end).
func (s *Store) ListServiceOccupancy(ctx context.Context, serviceID int64, start, end time.Time) ([]Occupancy, error) {
	var rows []Occupancy
	err := s.db.SelectContext(ctx, &rows, `
		SELECT start_date AS start_time, end_date AS end_time, quantity,
		       `+bookingHeadcountExpr+` * quantity AS headcount
		FROM bookings
		WHERE service_id = $1
		  AND deleted_at IS NULL
		  AND status IN ('pending', 'confirmed')
		  AND start_date < $3 AND end_date > $2`,
		serviceID, start, end)
	return rows, err
}

// ListTableOccupancy returns occupying table reservations overlapping
// [start, end). For AUTO tables the cooldown extends each reservation's
// end before the overlap test; MANUAL reservations occupy until
// explicitly released.
func (s *Store) ListTableOccupancy(ctx context.Context, table *models.RestaurantTable, start, end time.Time) ([]Occupancy, error) {
	var rows []Occupancy

	switch table.ReAvailability {
	case models.ReAvailabilityAuto:
		cooldown := time.Duration(table.AutoReleaseMinutes) * time.Minute
		err := s.db.SelectContext(ctx, &rows, `
			SELECT start_time, end_time + $4::interval AS end_time, 1 AS quantity
			FROM table_reservations
			WHERE table_id = $1
			  AND status IN ('confirmed', 'tentative')
			  AND start_time < $3 AND end_time + $4::interval > $2`,
			table.ID, start, end, fmt.Sprintf("%d minutes", int(cooldown.Minutes())))
		return rows, err
	default:
		// MANUAL: an unreleased reservation occupies indefinitely.
		err := s.db.SelectContext(ctx, &rows, `
			SELECT start_time, end_time, 1 AS quantity
			FROM table_reservations
			WHERE table_id = $1
			  AND status IN ('confirmed', 'tentative')
			  AND released_at IS NULL
			  AND start_time < $3`,
			table.ID, start, end)
		return rows, err
	}
}

// ReserveBookingTx inserts a booking after re-checking capacity inside
// one transaction, with a row lock on the service (and table, if any).
// The lock serializes the overlap check and the insert so concurrent
// checkouts cannot both pass the check and oversubscribe the resource.
func (s *Store) ReserveBookingTx(ctx context.Context, booking *models.Booking, table *models.RestaurantTable) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var svc models.Service
	err = tx.GetContext(ctx, &svc,
		"SELECT * FROM services WHERE id = $1 AND deleted_at IS NULL FOR UPDATE",
		booking.ServiceID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: service %d", models.ErrNotFound, booking.ServiceID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock service: %w", err)
	}
	if !svc.Approved {
		return models.ErrServiceNotActive
	}

	var blocked bool
	err = tx.GetContext(ctx, &blocked, `
		SELECT EXISTS(
			SELECT 1 FROM availability_blocks
			WHERE service_id = $1 AND start_date < $3 AND end_date > $2)`,
		booking.ServiceID, booking.StartDate, booking.EndDate)
	if err != nil {
		return fmt.Errorf("failed to check blocks: %w", err)
	}
	if blocked {
		return models.NewConflict(booking.ServiceID, booking.TableID.Int64, "blocked by provider")
	}

	if table != nil {
		if err := reserveTableLocked(ctx, tx, booking, table); err != nil {
			return err
		}
	} else {
		if err := reserveServiceLocked(ctx, tx, booking, &svc); err != nil {
			return err
		}
	}

	err = tx.GetContext(ctx, booking, `
		INSERT INTO bookings (user_id, service_id, table_id, order_id,
			start_date, end_date, quantity, status, details,
			subtotal, tax, discount, total, points_used, points_value,
			idempotency_key, payment_tx_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`,
		booking.UserID, booking.ServiceID, booking.TableID, booking.OrderID,
		booking.StartDate, booking.EndDate, booking.Quantity, booking.Status,
		booking.Details, booking.Subtotal, booking.Tax, booking.Discount,
		booking.Total, booking.PointsUsed, booking.PointsValue,
		booking.IdempotencyKey, booking.PaymentTxID)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	if table != nil {
		details, derr := models.ParseDetails(booking.Details)
		guests := 0
		if derr == nil && details.Restaurant != nil {
			guests = details.Restaurant.Guests
		}
		// One reservation row per booked unit, so the per-unit occupancy
		// counts stay honest for multi-unit bookings.
		for i := 0; i < booking.Quantity; i++ {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO table_reservations (table_id, booking_id, user_id, guests,
					start_time, end_time, status)
				VALUES ($1, $2, $3, $4, $5, $6, 'confirmed')`,
				table.ID, booking.ID, booking.UserID, guests,
				booking.StartDate, booking.EndDate)
			if err != nil {
				return fmt.Errorf("failed to create table reservation: %w", err)
			}
		}
	}

	return tx.Commit()
}

// reserveServiceLocked checks unit or headcount capacity with the
// service row already locked. A headcount pool charges each overlapping
// booking's attendee/guest count against max_individuals; unit pools
// sum the quantity column.
func reserveServiceLocked(ctx context.Context, tx queryer, booking *models.Booking, svc *models.Service) error {
	occQuery := `
		SELECT COALESCE(SUM(quantity), 0) FROM bookings
		WHERE service_id = $1
		  AND deleted_at IS NULL
		  AND status IN ('pending', 'confirmed')
		  AND start_date < $3 AND end_date > $2`

	capacity := svc.TotalUnits
	if capacity == 0 {
		capacity = 1
	}
	requested := booking.Quantity

	if svc.MaxIndividuals > 0 {
		capacity = svc.MaxIndividuals
		occQuery = `
			SELECT COALESCE(SUM(CASE WHEN o.headcount > 0 THEN o.headcount * o.quantity ELSE o.quantity END), 0)
			FROM (
				SELECT quantity, ` + bookingHeadcountExpr + ` AS headcount
				FROM bookings
				WHERE service_id = $1
				  AND deleted_at IS NULL
				  AND status IN ('pending', 'confirmed')
				  AND start_date < $3 AND end_date > $2) o`
		if details, derr := models.ParseDetails(booking.Details); derr == nil {
			if hc := details.Headcount(); hc > 0 {
				requested = hc * booking.Quantity
			}
		}
	}

	var occupied int
	err := tx.GetContext(ctx, &occupied, occQuery,
		booking.ServiceID, booking.StartDate, booking.EndDate)
	if err != nil {
		return fmt.Errorf("failed to count occupancy: %w", err)
	}

	if capacity-occupied < requested {
		return models.NewConflict(booking.ServiceID, 0,
			fmt.Sprintf("capacity exceeded: %d remaining, %d requested", capacity-occupied, requested))
	}
	return nil
}

// reserveTableLocked checks table-unit capacity. The table row is
// locked so concurrent reservations against the same table pool
// serialize here.
func reserveTableLocked(ctx context.Context, tx queryer, booking *models.Booking, table *models.RestaurantTable) error {
	var locked models.RestaurantTable
	err := tx.GetContext(ctx, &locked,
		"SELECT * FROM restaurant_tables WHERE id = $1 FOR UPDATE", table.ID)
	if err != nil {
		return fmt.Errorf("failed to lock table: %w", err)
	}

	var occupied int
	switch locked.ReAvailability {
	case models.ReAvailabilityAuto:
		interval := fmt.Sprintf("%d minutes", locked.AutoReleaseMinutes)
		err = tx.GetContext(ctx, &occupied, `
			SELECT COUNT(*) FROM table_reservations
			WHERE table_id = $1
			  AND status IN ('confirmed', 'tentative')
			  AND start_time < $3 AND end_time + $4::interval > $2`,
			locked.ID, booking.StartDate, booking.EndDate, interval)
	default:
		err = tx.GetContext(ctx, &occupied, `
			SELECT COUNT(*) FROM table_reservations
			WHERE table_id = $1
			  AND status IN ('confirmed', 'tentative')
			  AND released_at IS NULL
			  AND start_time < $3`,
			locked.ID, booking.StartDate, booking.EndDate)
	}
	if err != nil {
		return fmt.Errorf("failed to count table occupancy: %w", err)
	}

	if locked.Quantity-occupied < booking.Quantity {
		return models.NewConflict(booking.ServiceID, locked.ID,
			fmt.Sprintf("no table units remaining: %d free, %d requested", locked.Quantity-occupied, booking.Quantity))
	}
	return nil
}

// queryer is the subset of sqlx.Tx used by the locked capacity checks
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking,
		"SELECT * FROM bookings WHERE id = $1 AND deleted_at IS NULL", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: booking %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingByIdempotencyKey retrieves a booking by user and
// idempotency key, nil when absent
func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking,
		"SELECT * FROM bookings WHERE user_id = $1 AND idempotency_key = $2 AND deleted_at IS NULL",
		userID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingsByUserID retrieves bookings for a user
func (s *Store) GetBookingsByUserID(ctx context.Context, userID int64) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT * FROM bookings WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC",
		userID)
	return bookings, err
}

// UpdateBookingStatus transitions a booking's status
func (s *Store) UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL",
		status, bookingID)
	return err
}

// CancelBookingTx cancels a booking and its table reservation together.
// Bookings are never hard-deleted; cancellation is a status transition.
func (s *Store) CancelBookingTx(ctx context.Context, bookingID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE bookings SET status = 'cancelled', updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL AND status NOT IN ('cancelled', 'completed')",
		bookingID)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: booking %d not cancellable", models.ErrValidation, bookingID)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE table_reservations SET status = 'cancelled' WHERE booking_id = $1",
		bookingID)
	if err != nil {
		return fmt.Errorf("failed to cancel table reservation: %w", err)
	}

	return tx.Commit()
}

// ReleaseTableReservation explicitly frees a MANUAL table unit
func (s *Store) ReleaseTableReservation(ctx context.Context, reservationID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE table_reservations SET released_at = NOW() WHERE id = $1 AND released_at IS NULL",
		reservationID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: reservation %d already released or missing", models.ErrValidation, reservationID)
	}
	return nil
}

// GetReservationByBookingID finds the live table reservation backing a
// booking
func (s *Store) GetReservationByBookingID(ctx context.Context, bookingID int64) (*models.TableReservation, error) {
	var reservation models.TableReservation
	err := s.db.GetContext(ctx, &reservation,
		"SELECT * FROM table_reservations WHERE booking_id = $1 AND released_at IS NULL AND status != 'cancelled'",
		bookingID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no active reservation for booking %d", models.ErrNotFound, bookingID)
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetProviderBookingVolume counts confirmed/completed bookings for a
// provider over a trailing window, used by volume-tier commission rules.
func (s *Store) GetProviderBookingVolume(ctx context.Context, providerID int64, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM bookings b
		JOIN services s ON s.id = b.service_id
		WHERE s.provider_id = $1
		  AND b.status IN ('confirmed', 'completed')
		  AND b.created_at >= $2`,
		providerID, since)
	return count, err
}
