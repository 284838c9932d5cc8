package store

import (
	"context"
	"database/sql"
	"fmt"

	"booking-service/internal/models"
)

// GetOpenCart retrieves the user's open cart, or nil if none exists.
// A partial unique index on (user_id) WHERE status = 'open' guarantees
// at most one.
func (s *Store) GetOpenCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart,
		"SELECT * FROM carts WHERE user_id = $1 AND status = 'open'", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// CreateCart creates an open cart for a user
func (s *Store) CreateCart(ctx context.Context, cart *models.Cart) error {
	query := `
		INSERT INTO carts (user_id, status)
		VALUES ($1, 'open')
		RETURNING id, status, created_at, updated_at`

	return s.db.GetContext(ctx, cart, query, cart.UserID)
}

// GetCartItems retrieves all items in a cart
func (s *Store) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY id", cartID)
	return items, err
}

// GetCartItemByID retrieves one cart item
func (s *Store) GetCartItemByID(ctx context.Context, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM cart_items WHERE id = $1", itemID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: cart item %d", models.ErrNotFound, itemID)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateCartItem adds an item to a cart
func (s *Store) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (cart_id, service_id, table_id, quantity,
			start_date, end_date, details, unit_price, tax, discount, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, item, query,
		item.CartID, item.ServiceID, item.TableID, item.Quantity,
		item.StartDate, item.EndDate, item.Details,
		item.UnitPrice, item.Tax, item.Discount, item.LineTotal)
}

// UpdateCartItemQuantity updates quantity on a cart item
func (s *Store) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	return err
}

// UpdateCartItemPricing refreshes the cached pricing fields on a line
func (s *Store) UpdateCartItemPricing(ctx context.Context, itemID int64, unitPrice, tax, discount, lineTotal float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET unit_price = $1, tax = $2, discount = $3, line_total = $4 WHERE id = $5",
		unitPrice, tax, discount, lineTotal, itemID)
	return err
}

// DeleteCartItem removes an item from a cart
func (s *Store) DeleteCartItem(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID)
	return err
}

// CloseCart marks a cart as checked out
func (s *Store) CloseCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE carts SET status = 'checked_out', updated_at = NOW() WHERE id = $1", cartID)
	return err
}
