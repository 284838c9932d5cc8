package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"booking-service/internal/availability"
	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/settings"
	"booking-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore backs the cart, checkout and availability collaborators in
// one place, mirroring how *store.Store serves them all in production.
type fakeStore struct {
	cart      *models.Cart
	items     []models.CartItem
	services  map[int64]*models.Service
	tables    map[int64]*models.RestaurantTable
	occupancy []store.Occupancy

	ordersByKey map[string]*models.Order
	createErr   error
	created     *models.Order
	cartClosed  bool
	payments    []*models.Payment

	// raceWinner, when set, is returned for key lookups only after the
	// first one, so the fast path misses but the post-conflict read hits.
	raceWinner *models.Order
	keyLookups int
}

func (f *fakeStore) GetOpenCart(ctx context.Context, userID int64) (*models.Cart, error) {
	return f.cart, nil
}

func (f *fakeStore) CreateCart(ctx context.Context, cart *models.Cart) error {
	cart.ID = 1
	f.cart = cart
	return nil
}

func (f *fakeStore) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	return f.items, nil
}

func (f *fakeStore) GetCartItemByID(ctx context.Context, itemID int64) (*models.CartItem, error) {
	for i := range f.items {
		if f.items[i].ID == itemID {
			return &f.items[i], nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeStore) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	item.ID = int64(len(f.items) + 1)
	f.items = append(f.items, *item)
	return nil
}

func (f *fakeStore) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	return nil
}

func (f *fakeStore) UpdateCartItemPricing(ctx context.Context, itemID int64, unitPrice, tax, discount, lineTotal float64) error {
	return nil
}

func (f *fakeStore) DeleteCartItem(ctx context.Context, itemID int64) error {
	return nil
}

func (f *fakeStore) CloseCart(ctx context.Context, cartID int64) error {
	f.cartClosed = true
	return nil
}

func (f *fakeStore) GetServiceByID(ctx context.Context, id int64) (*models.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return svc, nil
}

func (f *fakeStore) GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error) {
	table, ok := f.tables[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return table, nil
}

func (f *fakeStore) GetBlocksOverlapping(ctx context.Context, serviceID int64, start, end time.Time) ([]models.AvailabilityBlock, error) {
	return nil, nil
}

func (f *fakeStore) ListServiceOccupancy(ctx context.Context, serviceID int64, start, end time.Time) ([]store.Occupancy, error) {
	return f.occupancy, nil
}

func (f *fakeStore) ListTableOccupancy(ctx context.Context, table *models.RestaurantTable, start, end time.Time) ([]store.Occupancy, error) {
	return f.occupancy, nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	if f.created != nil && f.created.ID == id {
		return f.created, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeStore) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	f.keyLookups++
	if f.raceWinner != nil && f.keyLookups > 1 {
		return f.raceWinner, nil
	}
	return f.ordersByKey[key], nil
}

func (f *fakeStore) CreateOrderTx(ctx context.Context, p store.CreateOrderParams) error {
	if f.createErr != nil {
		return f.createErr
	}
	p.Order.ID = 100
	f.created = p.Order
	if f.ordersByKey == nil {
		f.ordersByKey = make(map[string]*models.Order)
	}
	f.ordersByKey[p.Order.IdempotencyKey] = p.Order
	return nil
}

func (f *fakeStore) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status, paymentStatus string) error {
	if f.created != nil && f.created.ID == orderID {
		f.created.Status = status
		f.created.PaymentStatus = paymentStatus
	}
	return nil
}

func (f *fakeStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	payment.ID = int64(len(f.payments) + 1)
	f.payments = append(f.payments, payment)
	return nil
}

func (f *fakeStore) UpdatePaymentStatus(ctx context.Context, paymentID int64, status, providerTxID string) error {
	return nil
}

func (f *fakeStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return nil, nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (float64, bool, error) {
	switch key {
	case settings.KeyTaxRate:
		return 0.1, true, nil
	case settings.KeyPointsRate:
		return 0.01, true, nil
	case settings.KeyPointsMaxRedeemRatio:
		return 0.5, true, nil
	}
	return 0, false, nil
}

func (f *fakeStore) GetPointsBalance(ctx context.Context, userID int64) (int64, error) {
	return 0, nil
}

func (f *fakeStore) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return nil, models.ErrCouponNotFound
}

func (f *fakeStore) CountCouponRedemptions(ctx context.Context, couponID int64) (int, error) {
	return 0, nil
}

func (f *fakeStore) CountUserCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	return 0, nil
}

// stubGateway returns a fixed status for every charge. failFirst makes
// the first call fail with a transport error, simulating an outage.
type stubGateway struct {
	status    string
	charges   int
	failFirst bool
}

func (g *stubGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.charges++
	if g.failFirst && g.charges == 1 {
		return nil, errors.New("gateway timeout")
	}
	return &ChargeResult{
		TransactionID: "TXN-TEST",
		Status:        g.status,
	}, nil
}

// recordingPublisher captures everything published
type recordingPublisher struct {
	paid   []*models.OrderPaidEvent
	failed []*models.PaymentFailedEvent
}

func (p *recordingPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	p.paid = append(p.paid, event)
	return nil
}

func (p *recordingPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	p.failed = append(p.failed, event)
	return nil
}

func eventDetails(attendees int) json.RawMessage {
	d := models.BookingDetails{
		Kind:  models.DetailsKindEvent,
		Event: &models.EventDetails{Attendees: attendees},
	}
	raw, _ := d.Encode()
	return raw
}

func newCheckoutEnv(fs *fakeStore, gateway PaymentGateway, pub *recordingPublisher) *CheckoutService {
	loader := settings.NewLoader(fs, settings.Defaults{TaxRate: 0.1})
	pricer := pricing.NewEngine(pricing.NewCouponValidator(fs), fs)
	engine := availability.NewEngine(fs)
	guard := NewCapacityGuard(engine, nil, time.Minute)
	carts := NewCartService(fs, pricer, loader)
	return NewCheckoutService(fs, carts, pricer, guard, gateway, pub, loader, nil)
}

func checkoutFixture() *fakeStore {
	start := time.Date(2026, 10, 1, 18, 0, 0, 0, time.UTC)
	return &fakeStore{
		cart: &models.Cart{ID: 1, UserID: 7, Status: models.CartStatusOpen},
		items: []models.CartItem{{
			ID:        1,
			CartID:    1,
			ServiceID: 5,
			Quantity:  1,
			StartDate: start,
			EndDate:   start.Add(4 * time.Hour),
			Details:   eventDetails(2),
		}},
		services: map[int64]*models.Service{
			5: {ID: 5, ProviderID: 3, BasePrice: 50, Approved: true, TotalUnits: 10, ServiceType: models.ServiceTypeEvent},
		},
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	fs := checkoutFixture()
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	pub := &recordingPublisher{}
	svc := newCheckoutEnv(fs, gateway, pub)

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	// base 50 x 2 attendees = 100, tax 10%
	assert.Equal(t, models.OrderStatusPaid, resp.Status)
	assert.Equal(t, 110.0, resp.Total)
	assert.False(t, resp.Replayed)
	assert.Equal(t, 1, gateway.charges)
	assert.True(t, fs.cartClosed)
	require.Len(t, pub.paid, 1)
	assert.Equal(t, resp.OrderID, pub.paid[0].OrderID)
}

func TestCheckoutReplaySkipsPipeline(t *testing.T) {
	fs := checkoutFixture()
	existing := &models.Order{
		ID:             42,
		UserID:         7,
		Total:          110,
		Status:         models.OrderStatusPaid,
		PaymentStatus:  models.PaymentStatusCompleted,
		IdempotencyKey: "key-1",
	}
	fs.ordersByKey = map[string]*models.Order{"key-1": existing}
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newCheckoutEnv(fs, gateway, &recordingPublisher{})

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	assert.True(t, resp.Replayed)
	assert.Equal(t, int64(42), resp.OrderID)
	assert.Zero(t, gateway.charges)
	assert.False(t, fs.cartClosed)
}

func TestCheckoutRetryAfterGatewayOutage(t *testing.T) {
	fs := checkoutFixture()
	gateway := &stubGateway{status: models.PaymentStatusCompleted, failFirst: true}
	pub := &recordingPublisher{}
	svc := newCheckoutEnv(fs, gateway, pub)

	req := &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	}

	// The gateway is unreachable: the order commits but stays pending.
	_, err := svc.Checkout(context.Background(), req)
	require.ErrorIs(t, err, models.ErrTransientInfra)
	require.NotNil(t, fs.created)
	assert.Equal(t, models.OrderStatusPending, fs.created.Status)
	assert.Empty(t, pub.paid)

	// Retrying with the same key must re-attempt the capture, not just
	// echo the pending order back.
	resp, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Replayed)
	assert.Equal(t, models.OrderStatusPaid, resp.Status)
	assert.Equal(t, 2, gateway.charges)
	require.Len(t, pub.paid, 1)
	assert.Equal(t, resp.OrderID, pub.paid[0].OrderID)
}

func TestCheckoutRetryResolvesRequiresAction(t *testing.T) {
	fs := checkoutFixture()
	gateway := &stubGateway{status: models.PaymentStatusRequiresAction}
	pub := &recordingPublisher{}
	svc := newCheckoutEnv(fs, gateway, pub)

	req := &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	}

	resp, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, resp.Status)
	assert.Equal(t, models.PaymentStatusRequiresAction, resp.PaymentStatus)

	// The customer finished the challenge; the retry captures.
	gateway.status = models.PaymentStatusCompleted
	resp, err = svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Replayed)
	assert.Equal(t, models.OrderStatusPaid, resp.Status)
	assert.Equal(t, 2, gateway.charges)
}

func TestCheckoutDuplicateOrderRace(t *testing.T) {
	fs := checkoutFixture()
	// A concurrent checkout commits first: the fast-path lookup misses,
	// the insert hits the unique constraint, and the follow-up read
	// finds the winner's order.
	fs.raceWinner = &models.Order{ID: 55, UserID: 7, Status: models.OrderStatusPaid, IdempotencyKey: "key-1"}
	fs.createErr = store.ErrDuplicateOrder
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newCheckoutEnv(fs, gateway, &recordingPublisher{})

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	assert.True(t, resp.Replayed)
	assert.Equal(t, int64(55), resp.OrderID)
	assert.Zero(t, gateway.charges)
}

func TestCheckoutCollectsAllConflicts(t *testing.T) {
	fs := checkoutFixture()
	start := fs.items[0].StartDate
	fs.items = append(fs.items, models.CartItem{
		ID:        2,
		CartID:    1,
		ServiceID: 6,
		Quantity:  1,
		StartDate: start,
		EndDate:   start.Add(4 * time.Hour),
		Details:   eventDetails(3),
	})
	fs.services[6] = &models.Service{ID: 6, ProviderID: 3, BasePrice: 20, Approved: true, TotalUnits: 1, ServiceType: models.ServiceTypeEvent}

	// Saturate both services for the requested window.
	fs.services[5].TotalUnits = 1
	fs.occupancy = []store.Occupancy{{StartTime: start, EndTime: start.Add(6 * time.Hour), Quantity: 1}}

	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newCheckoutEnv(fs, gateway, &recordingPublisher{})

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	require.Error(t, err)

	var conflict *models.AvailabilityConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, conflict.Conflicts, 2)
	assert.Zero(t, gateway.charges)
}

func TestCheckoutHeadcountPoolConflict(t *testing.T) {
	fs := checkoutFixture()
	fs.items[0].Details = eventDetails(60)
	fs.services[5].TotalUnits = 0
	fs.services[5].MaxIndividuals = 100

	// A confirmed 60-attendee booking already overlaps the window, so a
	// second 60-attendee request must not fit the 100-person pool even
	// though both bookings are quantity one.
	start := fs.items[0].StartDate
	fs.occupancy = []store.Occupancy{{
		StartTime: start,
		EndTime:   start.Add(4 * time.Hour),
		Quantity:  1,
		Headcount: 60,
	}}

	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newCheckoutEnv(fs, gateway, &recordingPublisher{})

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	require.Error(t, err)

	var conflict *models.AvailabilityConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, int64(5), conflict.Conflicts[0].ServiceID)
	assert.Zero(t, gateway.charges)
}

func TestCheckoutHeadcountPoolFitsRemainder(t *testing.T) {
	fs := checkoutFixture()
	fs.items[0].Details = eventDetails(40)
	fs.services[5].TotalUnits = 0
	fs.services[5].MaxIndividuals = 100

	start := fs.items[0].StartDate
	fs.occupancy = []store.Occupancy{{
		StartTime: start,
		EndTime:   start.Add(4 * time.Hour),
		Quantity:  1,
		Headcount: 60,
	}}

	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newCheckoutEnv(fs, gateway, &recordingPublisher{})

	resp, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, resp.Status)
}

func TestCheckoutPaymentDeclined(t *testing.T) {
	fs := checkoutFixture()
	gateway := &stubGateway{status: models.PaymentStatusFailed}
	pub := &recordingPublisher{}
	svc := newCheckoutEnv(fs, gateway, pub)

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, models.ErrPaymentDeclined)

	assert.Equal(t, models.OrderStatusFailed, fs.created.Status)
	require.Len(t, pub.failed, 1)
	assert.False(t, fs.cartClosed)
}

func TestCheckoutEmptyCart(t *testing.T) {
	fs := checkoutFixture()
	fs.items = nil
	svc := newCheckoutEnv(fs, &stubGateway{status: models.PaymentStatusCompleted}, &recordingPublisher{})

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         7,
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}
