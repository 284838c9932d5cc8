package service

import (
	"context"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/settings"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// CartStore is the persistence surface the cart service needs
type CartStore interface {
	GetOpenCart(ctx context.Context, userID int64) (*models.Cart, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	GetCartItemByID(ctx context.Context, itemID int64) (*models.CartItem, error)
	CreateCartItem(ctx context.Context, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error
	UpdateCartItemPricing(ctx context.Context, itemID int64, unitPrice, tax, discount, lineTotal float64) error
	DeleteCartItem(ctx context.Context, itemID int64) error
	GetServiceByID(ctx context.Context, id int64) (*models.Service, error)
	GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error)
}

// CartService manages the per-user staging area. Every mutation
// triggers a full recompute of the cart's cached pricing.
type CartService struct {
	store    CartStore
	pricer   *pricing.Engine
	settings *settings.Loader
	logger   *zap.Logger
}

// NewCartService creates a cart service
func NewCartService(store CartStore, pricer *pricing.Engine, loader *settings.Loader) *CartService {
	return &CartService{
		store:    store,
		pricer:   pricer,
		settings: loader,
		logger:   util.GetLogger(),
	}
}

// CartView is a cart with fresh totals
type CartView struct {
	Cart     *models.Cart      `json:"cart"`
	Items    []models.CartItem `json:"items"`
	Subtotal float64           `json:"subtotal"`
	Tax      float64           `json:"tax"`
	Total    float64           `json:"total"`
}

// GetOrCreateCart returns the user's open cart, creating one if needed
func (s *CartService) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := s.store.GetOpenCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart != nil {
		return cart, nil
	}

	cart = &models.Cart{UserID: userID}
	if err := s.store.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return cart, nil
}

// AddItem stages a line and recomputes the cart
func (s *CartService) AddItem(ctx context.Context, userID int64, item *models.CartItem) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if item.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}

	svc, err := s.store.GetServiceByID(ctx, item.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Approved {
		return nil, models.ErrServiceNotActive
	}

	details, err := models.ParseDetails(item.Details)
	if err != nil {
		return nil, err
	}
	if details.Kind == models.DetailsKindRestaurant {
		item.TableID.Int64 = details.Restaurant.TableID
		item.TableID.Valid = true
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	item.CartID = cart.ID

	if err := s.store.CreateCartItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	s.logger.Info("cart item added",
		zap.Int64("cart_id", cart.ID),
		zap.Int64("service_id", item.ServiceID))

	return s.Recompute(ctx, cart)
}

// UpdateItemQuantity changes a line's quantity and recomputes
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*CartView, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}

	cart, _, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateCartItemQuantity(ctx, itemID, quantity); err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.Recompute(ctx, cart)
}

// RemoveItem deletes a line and recomputes
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) (*CartView, error) {
	cart, _, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteCartItem(ctx, itemID); err != nil {
		return nil, fmt.Errorf("failed to remove cart item: %w", err)
	}

	return s.Recompute(ctx, cart)
}

// GetCart returns the cart with freshly recomputed totals
func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Recompute(ctx, cart)
}

// Recompute re-prices every line from current service prices and tax
// settings and refreshes the cached pricing fields. Coupon and points
// are not applied here; they belong to the checkout quote.
func (s *CartService) Recompute(ctx context.Context, cart *models.Cart) (*CartView, error) {
	items, err := s.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}

	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	view := &CartView{Cart: cart, Items: items}

	for i := range items {
		item := &items[i]

		line, err := s.buildLine(ctx, item)
		if err != nil {
			return nil, err
		}

		quote, err := s.pricer.Quote(ctx, cart.UserID, []pricing.Line{*line}, "", 0, cfg)
		if err != nil {
			return nil, err
		}

		item.UnitPrice = quote.Lines[0].UnitPrice
		item.Tax = quote.Tax
		item.LineTotal = quote.Total

		if err := s.store.UpdateCartItemPricing(ctx, item.ID, item.UnitPrice, item.Tax, item.Discount, item.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to refresh cart pricing: %w", err)
		}

		view.Subtotal = pricing.Round2(view.Subtotal + quote.Subtotal)
		view.Tax = pricing.Round2(view.Tax + quote.Tax)
		view.Total = pricing.Round2(view.Total + quote.Total)
	}

	return view, nil
}

// buildLine loads the service (and table) for a cart item and
// assembles a pricing line
func (s *CartService) buildLine(ctx context.Context, item *models.CartItem) (*pricing.Line, error) {
	svc, err := s.store.GetServiceByID(ctx, item.ServiceID)
	if err != nil {
		return nil, err
	}

	details, err := models.ParseDetails(item.Details)
	if err != nil {
		return nil, err
	}

	line := &pricing.Line{
		Service:  svc,
		Details:  details,
		Quantity: item.Quantity,
		Start:    item.StartDate,
		End:      item.EndDate,
	}

	if item.TableID.Valid {
		table, err := s.store.GetTableByID(ctx, item.TableID.Int64)
		if err != nil {
			return nil, err
		}
		line.Table = table
	}

	return line, nil
}

// ownedItem loads an item and verifies it belongs to the user's open cart
func (s *CartService) ownedItem(ctx context.Context, userID, itemID int64) (*models.Cart, *models.CartItem, error) {
	cart, err := s.store.GetOpenCart(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if cart == nil {
		return nil, nil, fmt.Errorf("%w: no open cart", models.ErrNotFound)
	}

	item, err := s.store.GetCartItemByID(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.CartID != cart.ID {
		return nil, nil, fmt.Errorf("%w: item %d not in user's cart", models.ErrValidation, itemID)
	}
	return cart, item, nil
}
