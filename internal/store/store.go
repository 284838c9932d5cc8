package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetServiceByID retrieves a service by ID
func (s *Store) GetServiceByID(ctx context.Context, id int64) (*models.Service, error) {
	var svc models.Service
	err := s.db.GetContext(ctx, &svc,
		"SELECT * FROM services WHERE id = $1 AND deleted_at IS NULL", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: service %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

// GetServicesByIDs retrieves multiple services by IDs
func (s *Store) GetServicesByIDs(ctx context.Context, ids []int64) ([]models.Service, error) {
	if len(ids) == 0 {
		return []models.Service{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM services WHERE id IN (?) AND deleted_at IS NULL", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var services []models.Service
	err = s.db.SelectContext(ctx, &services, query, args...)
	return services, err
}

// GetTableByID retrieves a restaurant table by ID
func (s *Store) GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error) {
	var table models.RestaurantTable
	err := s.db.GetContext(ctx, &table, "SELECT * FROM restaurant_tables WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: table %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &table, nil
}

// GetBlocksOverlapping retrieves availability blocks overlapping a window.
// Half-open interval overlap: block.start < end AND block.end > start.
func (s *Store) GetBlocksOverlapping(ctx context.Context, serviceID int64, start, end time.Time) ([]models.AvailabilityBlock, error) {
	var blocks []models.AvailabilityBlock
	err := s.db.SelectContext(ctx, &blocks,
		`SELECT * FROM availability_blocks
		 WHERE service_id = $1 AND start_date < $3 AND end_date > $2`,
		serviceID, start, end)
	return blocks, err
}

// CreateAvailabilityBlock records a provider-declared unavailable window
func (s *Store) CreateAvailabilityBlock(ctx context.Context, block *models.AvailabilityBlock) error {
	query := `
		INSERT INTO availability_blocks (service_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, block, query,
		block.ServiceID, block.StartDate, block.EndDate, block.Reason)
}

// GetSetting retrieves one named numeric setting.
// Settings are read per call and never cached beyond one quote's lifetime.
func (s *Store) GetSetting(ctx context.Context, key string) (float64, bool, error) {
	var value float64
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM settings WHERE key = $1", key)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// UpsertSetting writes one named numeric setting
func (s *Store) UpsertSetting(ctx context.Context, key string, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
