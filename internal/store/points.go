package store

import (
	"context"
	"fmt"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetPointsBalance returns the signed sum of a user's non-expired
// ledger rows.
func (s *Store) GetPointsBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `
		SELECT COALESCE(SUM(points), 0) FROM points_ledger
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		userID)
	return balance, err
}

// AppendPointsEntry appends one row to the ledger. Rows are never
// updated or deleted after insert.
func (s *Store) AppendPointsEntry(ctx context.Context, entry *models.PointsEntry) error {
	query := `
		INSERT INTO points_ledger (user_id, type, points, source, booking_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, entry, query,
		entry.UserID, entry.Type, entry.Points, entry.Source,
		entry.BookingID, entry.ExpiresAt)
}

// GetPointsHistory lists a user's ledger rows newest-first
func (s *Store) GetPointsHistory(ctx context.Context, userID int64) ([]models.PointsEntry, error) {
	var entries []models.PointsEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM points_ledger WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return entries, err
}

// lockPointsBalance locks the user's ledger rows and then re-sums the
// balance in a second statement. The two steps must be separate: a
// concurrent spend committed while we waited on the lock is invisible
// to the locking statement's snapshot under READ COMMITTED, but the
// fresh sum after the lock sees it.
func lockPointsBalance(ctx context.Context, tx *sqlx.Tx, userID int64) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		SELECT id FROM points_ledger
		WHERE user_id = $1
		FOR UPDATE`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("failed to lock points ledger: %w", err)
	}

	var balance int64
	err = tx.GetContext(ctx, &balance, `
		SELECT COALESCE(SUM(points), 0) FROM points_ledger
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum points balance: %w", err)
	}
	return balance, nil
}

// spendPointsTx appends a spend row inside the order transaction.
// The user's ledger rows are locked before the balance is re-summed,
// so a concurrent spend cannot drive the balance negative.
func spendPointsTx(ctx context.Context, tx *sqlx.Tx, userID, points, orderID int64) error {
	balance, err := lockPointsBalance(ctx, tx, userID)
	if err != nil {
		return err
	}

	if balance < points {
		return fmt.Errorf("%w: balance %d, requested %d", models.ErrInsufficientPoints, balance, points)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO points_ledger (user_id, type, points, source)
		VALUES ($1, 'spend', $2, $3)`,
		userID, -points, fmt.Sprintf("order:%d", orderID))
	if err != nil {
		return fmt.Errorf("failed to record points spend: %w", err)
	}
	return nil
}

// SpendPoints spends points outside the checkout pipeline (direct
// booking flow), with the same lock-then-sum balance re-check.
func (s *Store) SpendPoints(ctx context.Context, userID, points int64, source string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := lockPointsBalance(ctx, tx, userID)
	if err != nil {
		return err
	}
	if balance < points {
		return fmt.Errorf("%w: balance %d, requested %d", models.ErrInsufficientPoints, balance, points)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO points_ledger (user_id, type, points, source)
		VALUES ($1, 'spend', $2, $3)`,
		userID, -points, source)
	if err != nil {
		return fmt.Errorf("failed to record points spend: %w", err)
	}

	return tx.Commit()
}

// ExpirePoints appends offsetting expire rows for earn entries whose
// expiry has passed and that have not yet been offset. The offset row
// carries the same expires_at as the earn row, so both fall out of the
// balance filter together and the sweep only serves the audit trail.
// Idempotent across runs.
func (s *Store) ExpirePoints(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO points_ledger (user_id, type, points, source, booking_id, expires_at)
		SELECT e.user_id, 'expire', -e.points, 'expiry:' || e.id, e.booking_id, e.expires_at
		FROM points_ledger e
		WHERE e.type = 'earn'
		  AND e.expires_at IS NOT NULL
		  AND e.expires_at <= NOW()
		  AND NOT EXISTS (
			SELECT 1 FROM points_ledger x
			WHERE x.type = 'expire' AND x.source = 'expiry:' || e.id)`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire points: %w", err)
	}
	return res.RowsAffected()
}
