package service

import (
	"context"
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

type pointsSpend struct {
	userID int64
	points int64
	source string
}

type fakeBookingStore struct {
	services  map[int64]*models.Service
	tables    map[int64]*models.RestaurantTable
	occupancy []store.Occupancy

	bookings    map[int64]*models.Booking
	byKey       map[string]*models.Booking
	reservation *models.TableReservation
	reserveErr  error
	balance     int64

	nextID    int64
	spends    []pointsSpend
	entries   []*models.PointsEntry
	cancelled []int64
	voided    []int64
	released  []int64
}

func (f *fakeBookingStore) GetServiceByID(ctx context.Context, id int64) (*models.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return svc, nil
}

func (f *fakeBookingStore) GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error) {
	table, ok := f.tables[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return table, nil
}

func (f *fakeBookingStore) GetBlocksOverlapping(ctx context.Context, serviceID int64, start, end time.Time) ([]models.AvailabilityBlock, error) {
	return nil, nil
}

func (f *fakeBookingStore) ListServiceOccupancy(ctx context.Context, serviceID int64, start, end time.Time) ([]store.Occupancy, error) {
	return f.occupancy, nil
}

func (f *fakeBookingStore) ListTableOccupancy(ctx context.Context, table *models.RestaurantTable, start, end time.Time) ([]store.Occupancy, error) {
	return f.occupancy, nil
}

func (f *fakeBookingStore) ReserveBookingTx(ctx context.Context, booking *models.Booking, table *models.RestaurantTable) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.nextID++
	booking.ID = f.nextID
	if f.bookings == nil {
		f.bookings = make(map[int64]*models.Booking)
	}
	f.bookings[booking.ID] = booking
	return nil
}

func (f *fakeBookingStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	booking, ok := f.bookings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return booking, nil
}

func (f *fakeBookingStore) GetBookingByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Booking, error) {
	return f.byKey[key], nil
}

func (f *fakeBookingStore) GetBookingsByUserID(ctx context.Context, userID int64) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range f.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) CancelBookingTx(ctx context.Context, bookingID int64) error {
	f.cancelled = append(f.cancelled, bookingID)
	if b, ok := f.bookings[bookingID]; ok {
		b.Status = models.BookingStatusCancelled
	}
	return nil
}

func (f *fakeBookingStore) UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error {
	if b, ok := f.bookings[bookingID]; ok {
		b.Status = status
	}
	return nil
}

func (f *fakeBookingStore) ReleaseTableReservation(ctx context.Context, reservationID int64) error {
	f.released = append(f.released, reservationID)
	return nil
}

func (f *fakeBookingStore) GetReservationByBookingID(ctx context.Context, bookingID int64) (*models.TableReservation, error) {
	if f.reservation == nil {
		return nil, models.ErrNotFound
	}
	return f.reservation, nil
}

func (f *fakeBookingStore) SpendPoints(ctx context.Context, userID, points int64, source string) error {
	f.spends = append(f.spends, pointsSpend{userID: userID, points: points, source: source})
	return nil
}

func (f *fakeBookingStore) AppendPointsEntry(ctx context.Context, entry *models.PointsEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeBookingStore) GetPointsBalance(ctx context.Context, userID int64) (int64, error) {
	return f.balance, nil
}

func (f *fakeBookingStore) VoidInvoicesForBooking(ctx context.Context, bookingID int64) error {
	f.voided = append(f.voided, bookingID)
	return nil
}

func (f *fakeBookingStore) GetSetting(ctx context.Context, key string) (float64, bool, error) {
	switch key {
	case settings.KeyTaxRate:
		return 0.1, true, nil
	case settings.KeyPointsRate:
		return 0.01, true, nil
	case settings.KeyPointsMaxRedeemRatio:
		return 0.5, true, nil
	case settings.KeyPointsEarnRate:
		return 0.1, true, nil
	}
	return 0, false, nil
}

func (f *fakeBookingStore) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return nil, models.ErrCouponNotFound
}

func (f *fakeBookingStore) CountCouponRedemptions(ctx context.Context, couponID int64) (int, error) {
	return 0, nil
}

func (f *fakeBookingStore) CountUserCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	return 0, nil
}

type bookingPublisher struct {
	confirmed []*models.BookingConfirmedEvent
	cancelled []*models.BookingCancelledEvent
	completed []*models.BookingCompletedEvent
}

func (p *bookingPublisher) PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error {
	p.confirmed = append(p.confirmed, event)
	return nil
}

func (p *bookingPublisher) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	p.cancelled = append(p.cancelled, event)
	return nil
}

func (p *bookingPublisher) PublishBookingCompleted(ctx context.Context, event *models.BookingCompletedEvent) error {
	p.completed = append(p.completed, event)
	return nil
}

func bookingFixture() *fakeBookingStore {
	return &fakeBookingStore{
		services: map[int64]*models.Service{
			5: {ID: 5, ProviderID: 3, BasePrice: 50, Approved: true, TotalUnits: 10, ServiceType: models.ServiceTypeEvent},
		},
	}
}

func newBookingService(fs *fakeBookingStore, gateway PaymentGateway, pub *bookingPublisher) *BookingService {
	loader := settings.NewLoader(fs, settings.Defaults{TaxRate: 0.1})
	pricer := pricing.NewEngine(pricing.NewCouponValidator(fs), fs)
	engine := availability.NewEngine(fs)
	guard := NewCapacityGuard(engine, nil, time.Minute)
	return NewBookingService(fs, pricer, guard, gateway, pub, loader)
}

func bookingRequest() *CreateBookingRequest {
	start := time.Date(2026, 10, 1, 18, 0, 0, 0, time.UTC)
	return &CreateBookingRequest{
		UserID:         7,
		ServiceID:      5,
		StartDate:      start,
		EndDate:        start.Add(4 * time.Hour),
		Details:        eventDetails(2),
		PaymentMethod:  "card",
		IdempotencyKey: "key-1",
	}
}

func TestCreateBookingHappyPath(t *testing.T) {
	fs := bookingFixture()
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	pub := &bookingPublisher{}
	svc := newBookingService(fs, gateway, pub)

	booking, err := svc.CreateBooking(context.Background(), bookingRequest())
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, 110.0, booking.Total)
	assert.Equal(t, "TXN-TEST", booking.PaymentTxID)
	assert.Equal(t, 1, gateway.charges)
	require.Len(t, pub.confirmed, 1)
	assert.Equal(t, booking.ID, pub.confirmed[0].BookingID)
}

func TestCreateBookingIdempotentReplay(t *testing.T) {
	fs := bookingFixture()
	existing := &models.Booking{ID: 33, UserID: 7, Status: models.BookingStatusConfirmed, IdempotencyKey: "key-1"}
	fs.byKey = map[string]*models.Booking{"key-1": existing}
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newBookingService(fs, gateway, &bookingPublisher{})

	booking, err := svc.CreateBooking(context.Background(), bookingRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(33), booking.ID)
	assert.Zero(t, gateway.charges)
	assert.Empty(t, fs.bookings)
}

func TestCreateBookingRejectsUnavailableWindow(t *testing.T) {
	fs := bookingFixture()
	fs.services[5].TotalUnits = 1
	req := bookingRequest()
	fs.occupancy = []store.Occupancy{{StartTime: req.StartDate, EndTime: req.EndDate, Quantity: 1}}
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newBookingService(fs, gateway, &bookingPublisher{})

	_, err := svc.CreateBooking(context.Background(), req)
	require.Error(t, err)

	var conflict *models.AvailabilityConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Zero(t, gateway.charges)
	assert.Empty(t, fs.bookings)
}

func TestCreateBookingHeadcountPoolConflict(t *testing.T) {
	fs := bookingFixture()
	fs.services[5].TotalUnits = 0
	fs.services[5].MaxIndividuals = 100

	req := bookingRequest()
	req.Details = eventDetails(60)

	// A quantity-1 booking already seats 60 of the 100-person pool.
	fs.occupancy = []store.Occupancy{{
		StartTime: req.StartDate,
		EndTime:   req.EndDate,
		Quantity:  1,
		Headcount: 60,
	}}

	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newBookingService(fs, gateway, &bookingPublisher{})

	_, err := svc.CreateBooking(context.Background(), req)
	require.Error(t, err)

	var conflict *models.AvailabilityConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Zero(t, gateway.charges)
	assert.Empty(t, fs.bookings)
}

func TestCreateBookingSpendsPoints(t *testing.T) {
	fs := bookingFixture()
	fs.balance = 1000
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newBookingService(fs, gateway, &bookingPublisher{})

	req := bookingRequest()
	req.PointsToUse = 500

	booking, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	// 500 points at 0.01 take 5.00 off the 110.00 gross
	assert.Equal(t, 105.0, booking.Total)
	assert.Equal(t, int64(500), booking.PointsUsed)
	require.Len(t, fs.spends, 1)
	assert.Equal(t, pointsSpend{userID: 7, points: 500, source: "booking:key-1"}, fs.spends[0])
}

func TestCreateBookingPaymentDeclinedCompensates(t *testing.T) {
	fs := bookingFixture()
	fs.balance = 1000
	gateway := &stubGateway{status: models.PaymentStatusFailed}
	svc := newBookingService(fs, gateway, &bookingPublisher{})

	req := bookingRequest()
	req.PointsToUse = 500

	_, err := svc.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrPaymentDeclined)

	// The reservation is rolled back and the spent points come back as
	// a non-expiring adjustment.
	assert.Equal(t, []int64{1}, fs.cancelled)
	require.Len(t, fs.entries, 1)
	assert.Equal(t, models.PointsTypeAdjust, fs.entries[0].Type)
	assert.Equal(t, int64(500), fs.entries[0].Points)
	assert.Equal(t, "refund:key-1", fs.entries[0].Source)
	assert.False(t, fs.entries[0].ExpiresAt.Valid)
}

func TestCreateBookingReserveFailureRefundsPoints(t *testing.T) {
	fs := bookingFixture()
	fs.balance = 1000
	fs.reserveErr = errors.New("deadlock detected")
	gateway := &stubGateway{status: models.PaymentStatusCompleted}
	svc := newBookingService(fs, gateway, &bookingPublisher{})

	req := bookingRequest()
	req.PointsToUse = 500

	_, err := svc.CreateBooking(context.Background(), req)
	require.Error(t, err)

	assert.Zero(t, gateway.charges)
	require.Len(t, fs.entries, 1)
	assert.Equal(t, models.PointsTypeAdjust, fs.entries[0].Type)
}

func TestCreateBookingRejectsInvertedDates(t *testing.T) {
	fs := bookingFixture()
	svc := newBookingService(fs, &stubGateway{status: models.PaymentStatusCompleted}, &bookingPublisher{})

	req := bookingRequest()
	req.EndDate = req.StartDate.Add(-time.Hour)

	_, err := svc.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCancelRefundsPointsAndVoidsInvoices(t *testing.T) {
	fs := bookingFixture()
	fs.bookings = map[int64]*models.Booking{
		12: {ID: 12, UserID: 7, ServiceID: 5, Status: models.BookingStatusConfirmed, Total: 105, PointsUsed: 500, IdempotencyKey: "key-1"},
	}
	pub := &bookingPublisher{}
	svc := newBookingService(fs, &stubGateway{status: models.PaymentStatusCompleted}, pub)

	err := svc.Cancel(context.Background(), 7, 12, "change of plans")
	require.NoError(t, err)

	assert.Equal(t, []int64{12}, fs.cancelled)
	assert.Equal(t, []int64{12}, fs.voided)
	require.Len(t, fs.entries, 1)
	assert.Equal(t, int64(500), fs.entries[0].Points)

	require.Len(t, pub.cancelled, 1)
	assert.Equal(t, 105.0, pub.cancelled[0].RefundAmount)
	assert.Equal(t, int64(500), pub.cancelled[0].PointsReturn)
	assert.Equal(t, "change of plans", pub.cancelled[0].Reason)
}

func TestCancelRejectsForeignBooking(t *testing.T) {
	fs := bookingFixture()
	fs.bookings = map[int64]*models.Booking{
		12: {ID: 12, UserID: 8, Status: models.BookingStatusConfirmed},
	}
	svc := newBookingService(fs, &stubGateway{status: models.PaymentStatusCompleted}, &bookingPublisher{})

	err := svc.Cancel(context.Background(), 7, 12, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, fs.cancelled)
}

func TestCompleteEarnsPoints(t *testing.T) {
	fs := bookingFixture()
	fs.bookings = map[int64]*models.Booking{
		12: {ID: 12, UserID: 7, ServiceID: 5, Status: models.BookingStatusConfirmed, Total: 110},
	}
	pub := &bookingPublisher{}
	svc := newBookingService(fs, &stubGateway{status: models.PaymentStatusCompleted}, pub)

	err := svc.Complete(context.Background(), 12)
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusCompleted, fs.bookings[12].Status)

	// earn rate 0.1 on a 110.00 booking
	require.Len(t, fs.entries, 1)
	entry := fs.entries[0]
	assert.Equal(t, models.PointsTypeEarn, entry.Type)
	assert.Equal(t, int64(11), entry.Points)
	assert.True(t, entry.ExpiresAt.Valid)
	assert.True(t, entry.ExpiresAt.Time.After(time.Now().AddDate(0, 0, 364)))

	require.Len(t, pub.completed, 1)
	assert.Equal(t, int64(12), pub.completed[0].BookingID)
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	fs := bookingFixture()
	fs.bookings = map[int64]*models.Booking{
		12: {ID: 12, UserID: 7, Status: models.BookingStatusPending},
	}
	svc := newBookingService(fs, &stubGateway{status: models.PaymentStatusCompleted}, &bookingPublisher{})

	err := svc.Complete(context.Background(), 12)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, fs.entries)
}

func TestReleaseTableManualOnly(t *testing.T) {
	fs := bookingFixture()
	fs.tables = map[int64]*models.RestaurantTable{
		4: {ID: 4, ServiceID: 5, ReAvailability: models.ReAvailabilityAuto},
	}
	fs.reservation = &models.TableReservation{ID: 77, TableID: 4}
	svc := newBookingService(fs, &stubGateway{status: models.PaymentStatusCompleted}, &bookingPublisher{})

	err := svc.ReleaseTable(context.Background(), 12)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, fs.released)

	fs.tables[4].ReAvailability = models.ReAvailabilityManual
	require.NoError(t, svc.ReleaseTable(context.Background(), 12))
	assert.Equal(t, []int64{77}, fs.released)
}
