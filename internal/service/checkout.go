package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"booking-service/internal/availability"
	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/redisclient"
	"booking-service/internal/settings"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutStore is the persistence surface the checkout pipeline needs
type CheckoutStore interface {
	GetOpenCart(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	CloseCart(ctx context.Context, cartID int64) error
	GetServiceByID(ctx context.Context, id int64) (*models.Service, error)
	GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	CreateOrderTx(ctx context.Context, p store.CreateOrderParams) error
	UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status, paymentStatus string) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status, providerTxID string) error
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// CheckoutPublisher publishes pipeline events
type CheckoutPublisher interface {
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// CheckoutService converts a priced cart into an immutable order
// snapshot, captures payment once, and hands fulfillment to the
// background worker.
type CheckoutService struct {
	store     CheckoutStore
	carts     *CartService
	pricer    *pricing.Engine
	guard     *CapacityGuard
	gateway   PaymentGateway
	publisher CheckoutPublisher
	settings  *settings.Loader
	cache     *redisclient.Client
	logger    *zap.Logger
}

// idempotencyCacheTTL bounds how long a key maps to its order in Redis
// before the unique constraint in Postgres takes over alone.
const idempotencyCacheTTL = 24 * time.Hour

// NewCheckoutService creates a checkout service. cache may be nil;
// replay detection then relies on the database lookup alone.
func NewCheckoutService(
	st CheckoutStore,
	carts *CartService,
	pricer *pricing.Engine,
	guard *CapacityGuard,
	gateway PaymentGateway,
	publisher CheckoutPublisher,
	loader *settings.Loader,
	cache *redisclient.Client,
) *CheckoutService {
	return &CheckoutService{
		store:     st,
		carts:     carts,
		pricer:    pricer,
		guard:     guard,
		gateway:   gateway,
		publisher: publisher,
		settings:  loader,
		cache:     cache,
		logger:    util.GetLogger(),
	}
}

// CheckoutRequest is an already-validated checkout submission
type CheckoutRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	CouponCode     string `json:"coupon_code,omitempty"`
	PointsToUse    int64  `json:"points_to_use,omitempty"`
	PaymentMethod  string `json:"payment_method" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CheckoutResponse reports the order after the synchronous steps
type CheckoutResponse struct {
	OrderID       int64   `json:"order_id"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	Total         float64 `json:"total"`
	Replayed      bool    `json:"replayed,omitempty"`
}

// Checkout runs the synchronous pipeline: recompute, availability
// pre-check, idempotency replay, points-spend + order snapshot in one
// transaction, then a single payment capture. Fulfillment runs
// out-of-band once the ORDER_PAID event lands.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	util.CheckoutsTotal.Inc()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	// Fast replay path: Redis first, then the database. The unique
	// constraint below is what actually guarantees one order per key
	// under concurrency; the cache only skips the pipeline sooner.
	if cached := s.cachedOrder(ctx, req); cached != nil {
		return s.resume(ctx, cached, req.PaymentMethod)
	}
	if existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	} else if existing != nil {
		return s.resume(ctx, existing, req.PaymentMethod)
	}

	cart, err := s.store.GetOpenCart(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		return nil, fmt.Errorf("%w: no open cart", models.ErrValidation)
	}

	items, err := s.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", models.ErrValidation)
	}

	// Step 1: re-price from current service prices and tax settings.
	lines, err := s.buildLines(ctx, items)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	// Step 2: availability pre-check across every item; abort the whole
	// checkout when any item lacks capacity.
	checks, err := s.precheck(ctx, items, lines)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("availability").Inc()
		return nil, err
	}

	cfg, err := s.settings.Load(ctx)
	if err != nil {
		s.releaseHolds(ctx, checks)
		return nil, err
	}

	quote, err := s.pricer.Quote(ctx, req.UserID, lines, req.CouponCode, req.PointsToUse, cfg)
	if err != nil {
		s.releaseHolds(ctx, checks)
		util.CheckoutsFailedTotal.WithLabelValues("pricing").Inc()
		return nil, err
	}

	// Step 4: points spend and order snapshot commit atomically.
	order := &models.Order{
		UserID:         req.UserID,
		Subtotal:       quote.Subtotal,
		Tax:            quote.Tax,
		Discount:       quote.Discount,
		Total:          quote.Total,
		CouponCode:     req.CouponCode,
		CouponDiscount: quote.CouponDiscount,
		PointsUsed:     quote.PointsApplied,
		PointsValue:    quote.PointsValue,
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}

	orderItems := buildOrderItems(items, quote)

	err = s.store.CreateOrderTx(ctx, store.CreateOrderParams{
		Order:       order,
		Items:       orderItems,
		PointsSpend: quote.PointsApplied,
		Coupon:      quote.Coupon,
	})
	util.SpanInt64(span, "order_id", order.ID)
	if errors.Is(err, store.ErrDuplicateOrder) {
		// A concurrent duplicate won the race; return its order.
		s.releaseHolds(ctx, checks)
		existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if lookupErr != nil || existing == nil {
			return nil, fmt.Errorf("failed to load replayed order: %w", lookupErr)
		}
		return s.resume(ctx, existing, req.PaymentMethod)
	}
	if err != nil {
		s.releaseHolds(ctx, checks)
		util.CheckoutsFailedTotal.WithLabelValues("order_commit").Inc()
		return nil, err
	}
	s.cacheOrderID(ctx, req, order.ID)

	// Step 5: exactly one gateway charge, idempotent per order.
	if err := s.capturePayment(ctx, order, req.PaymentMethod); err != nil {
		s.releaseHolds(ctx, checks)
		return nil, err
	}

	if err := s.store.CloseCart(ctx, cart.ID); err != nil {
		s.logger.Error("failed to close cart after checkout",
			zap.Int64("cart_id", cart.ID), zap.Error(err))
	}

	return s.response(order, false), nil
}

// cachedOrder resolves an idempotency key through Redis. Any cache
// miss or error falls through to the database lookup.
func (s *CheckoutService) cachedOrder(ctx context.Context, req *CheckoutRequest) *models.Order {
	if s.cache == nil {
		return nil
	}
	key := fmt.Sprintf("%d:%s", req.UserID, req.IdempotencyKey)
	val, err := s.cache.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("idempotency cache lookup failed", zap.Error(err))
		return nil
	}
	if val == "" {
		return nil
	}
	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		s.logger.Warn("cached order lookup failed",
			zap.Int64("order_id", orderID), zap.Error(err))
		return nil
	}
	return order
}

func (s *CheckoutService) cacheOrderID(ctx context.Context, req *CheckoutRequest, orderID int64) {
	if s.cache == nil {
		return
	}
	key := fmt.Sprintf("%d:%s", req.UserID, req.IdempotencyKey)
	if err := s.cache.SetIdempotencyKey(ctx, key, orderID, idempotencyCacheTTL); err != nil {
		s.logger.Warn("failed to cache idempotency key", zap.Error(err))
	}
}

// resume returns a previously committed order for a replayed
// idempotency key. When the earlier attempt died before the gateway
// reached a terminal status (transient outage, or a charge still
// pending/requires_action), the retry re-enters payment capture; the
// gateway's own idempotency token keeps that from double-billing.
func (s *CheckoutService) resume(ctx context.Context, order *models.Order, method string) (*CheckoutResponse, error) {
	util.CheckoutReplaysTotal.Inc()

	if order.Status == models.OrderStatusPending &&
		order.PaymentStatus != models.PaymentStatusCompleted &&
		order.PaymentStatus != models.PaymentStatusFailed {
		s.logger.Info("resuming payment capture on replayed checkout",
			zap.Int64("order_id", order.ID),
			zap.String("payment_status", order.PaymentStatus))
		if err := s.capturePayment(ctx, order, method); err != nil {
			return nil, err
		}
		return s.response(order, true), nil
	}

	s.logger.Info("checkout replayed",
		zap.String("idempotency_key", order.IdempotencyKey),
		zap.Int64("order_id", order.ID))
	return s.response(order, true), nil
}

// capturePayment performs the single gateway charge for an order and
// records the outcome. The idempotency token derives from the order id
// so a timeout-retry cannot double-charge.
func (s *CheckoutService) capturePayment(ctx context.Context, order *models.Order, method string) error {
	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	payment := &models.Payment{
		OrderID: order.ID,
		Status:  models.PaymentStatusPending,
		Amount:  order.Total,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := s.gateway.Charge(chargeCtx, ChargeRequest{
		Amount:           order.Total,
		Currency:         "USD",
		Method:           method,
		IdempotencyToken: fmt.Sprintf("order-%d", order.ID),
	})
	if err != nil {
		// Gateway unreachable: order stays pending, retryable with the
		// same idempotency key.
		util.PaymentFailedTotal.Inc()
		return fmt.Errorf("%w: gateway charge failed: %v", models.ErrTransientInfra, err)
	}

	if err := s.store.UpdatePaymentStatus(ctx, payment.ID, result.Status, result.TransactionID); err != nil {
		return fmt.Errorf("failed to record payment status: %w", err)
	}

	switch result.Status {
	case models.PaymentStatusCompleted:
		util.PaymentSuccessTotal.Inc()
		util.OrdersPaidTotal.Inc()

		if err := s.store.UpdateOrderPaymentStatus(ctx, order.ID, models.OrderStatusPaid, result.Status); err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		order.Status = models.OrderStatusPaid
		order.PaymentStatus = result.Status

		event := &models.OrderPaidEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderPaid,
				Timestamp: time.Now(),
			},
			OrderID:     order.ID,
			UserID:      order.UserID,
			Total:       order.Total,
			PaymentTxID: result.TransactionID,
		}
		if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
			s.logger.Error("failed to publish OrderPaid event",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
		return nil

	case models.PaymentStatusPending, models.PaymentStatusRequiresAction:
		// Not terminal: order stays pending until the gateway resolves.
		if err := s.store.UpdateOrderPaymentStatus(ctx, order.ID, models.OrderStatusPending, result.Status); err != nil {
			return fmt.Errorf("failed to record pending payment: %w", err)
		}
		order.PaymentStatus = result.Status
		return nil

	default:
		util.PaymentFailedTotal.Inc()

		if err := s.store.UpdateOrderPaymentStatus(ctx, order.ID, models.OrderStatusFailed, result.Status); err != nil {
			s.logger.Error("failed to mark order failed",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
		order.Status = models.OrderStatusFailed
		order.PaymentStatus = result.Status

		event := &models.PaymentFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentFailed,
				Timestamp: time.Now(),
			},
			OrderID: order.ID,
			UserID:  order.UserID,
			Reason:  result.Status,
		}
		if err := s.publisher.PublishPaymentFailed(ctx, event); err != nil {
			s.logger.Error("failed to publish PaymentFailed event",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
		return models.ErrPaymentDeclined
	}
}

// buildLines re-prices cart items from current service data
func (s *CheckoutService) buildLines(ctx context.Context, items []models.CartItem) ([]pricing.Line, error) {
	lines := make([]pricing.Line, 0, len(items))
	for i := range items {
		line, err := s.carts.buildLine(ctx, &items[i])
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	return lines, nil
}

// precheck verifies capacity for every item and places holds. All
// conflicts are collected so the client sees every failing item.
// lines run parallel to items and supply the service and parsed
// details each capacity question needs.
func (s *CheckoutService) precheck(ctx context.Context, items []models.CartItem, lines []pricing.Line) ([]availability.Request, error) {
	held := make([]availability.Request, 0, len(items))
	var conflicts []models.ItemConflict

	for i := range items {
		item := &items[i]
		req := availability.Request{
			ServiceID: item.ServiceID,
			TableID:   item.TableID.Int64,
			Start:     item.StartDate,
			End:       item.EndDate,
			Quantity:  item.Quantity,
		}
		// Headcount-capped services occupy attendees, not units.
		if lines[i].Service.MaxIndividuals > 0 {
			req.Headcount = lines[i].Details.Headcount() * item.Quantity
		}

		result, err := s.guard.CheckAndHold(ctx, req)
		if err != nil {
			s.releaseHolds(ctx, held)
			return nil, err
		}
		if !result.Available {
			conflicts = append(conflicts, models.ItemConflict{
				ServiceID: item.ServiceID,
				TableID:   item.TableID.Int64,
				Reason:    result.Reason,
			})
			continue
		}
		held = append(held, req)
	}

	if len(conflicts) > 0 {
		s.releaseHolds(ctx, held)
		return nil, &models.AvailabilityConflictError{Conflicts: conflicts}
	}
	return held, nil
}

func (s *CheckoutService) releaseHolds(ctx context.Context, held []availability.Request) {
	for _, req := range held {
		s.guard.Release(ctx, req)
	}
}

// buildOrderItems freezes cart lines into the order snapshot
func buildOrderItems(items []models.CartItem, quote *pricing.PriceBreakdown) []models.OrderItem {
	out := make([]models.OrderItem, 0, len(items))
	for i := range items {
		lp := quote.Lines[i]
		out = append(out, models.OrderItem{
			ServiceID:    items[i].ServiceID,
			TableID:      items[i].TableID,
			Quantity:     items[i].Quantity,
			StartDate:    items[i].StartDate,
			EndDate:      items[i].EndDate,
			Details:      items[i].Details,
			UnitPrice:    lp.UnitPrice,
			LineSubtotal: lp.Subtotal,
			LineTax:      lp.Tax,
		})
	}
	return out
}

func (s *CheckoutService) response(order *models.Order, replayed bool) *CheckoutResponse {
	return &CheckoutResponse{
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total,
		Replayed:      replayed,
	}
}

// QuoteCart prices the user's open cart with an optional coupon and
// points request, without committing anything. The same engine runs at
// checkout so a quote and its checkout agree given unchanged inputs.
func (s *CheckoutService) QuoteCart(ctx context.Context, userID int64, couponCode string, pointsToUse int64) (*pricing.PriceBreakdown, error) {
	cart, err := s.store.GetOpenCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		return nil, fmt.Errorf("%w: no open cart", models.ErrValidation)
	}
	items, err := s.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", models.ErrValidation)
	}

	lines, err := s.buildLines(ctx, items)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.pricer.Quote(ctx, userID, lines, couponCode, pointsToUse, cfg)
}

// GetOrder retrieves an order with its items
func (s *CheckoutService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}
