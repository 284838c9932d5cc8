package commission

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"booking-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeInvoiceStore struct {
	invoices []*models.Invoice
	volume   int
}

func (f *fakeInvoiceStore) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	invoice.ID = int64(len(f.invoices) + 1)
	f.invoices = append(f.invoices, invoice)
	return nil
}

func (f *fakeInvoiceStore) GetProviderBookingVolume(ctx context.Context, providerID int64, since time.Time) (int, error) {
	return f.volume, nil
}

func newTestGenerator(st *fakeInvoiceStore, rules *fakeRuleSource) *InvoiceGenerator {
	return &InvoiceGenerator{
		store:      st,
		calculator: newTestCalculator(rules),
		logger:     zap.NewNop(),
	}
}

func TestGenerateForBookingAppliesRatingRule(t *testing.T) {
	rules := &fakeRuleSource{rules: []models.CommissionRule{
		{
			ID: 1, Name: "top rated discount", RuleType: models.RuleTypeRating,
			MatchValue:     "excellent",
			CommissionType: models.CommissionTypePercentage, CommissionValue: 8,
		},
	}}
	st := &fakeInvoiceStore{}
	gen := newTestGenerator(st, rules)

	booking := &models.Booking{ID: 7, UserID: 123, Total: 200}
	svc := &models.Service{ID: 5, ProviderID: 3, ServiceType: models.ServiceTypeEvent, Rating: 4.8}

	invoices, err := gen.GenerateForBooking(context.Background(), booking, svc, defaultCfg())
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	// 8% of 200: the rating rule matched off the provider's 4.8 rating.
	assert.Equal(t, 16.0, invoices[0].CommissionAmount)
	assert.Equal(t, 184.0, invoices[0].ProviderAmount)

	var breakdown []RuleContribution
	require.NoError(t, json.Unmarshal(invoices[0].Breakdown, &breakdown))
	require.Len(t, breakdown, 1)
	assert.Equal(t, models.RuleTypeRating, breakdown[0].RuleType)
}

func TestGenerateForBookingLowRatingFallsBack(t *testing.T) {
	rules := &fakeRuleSource{rules: []models.CommissionRule{
		{
			ID: 1, Name: "top rated discount", RuleType: models.RuleTypeRating,
			MatchValue:     "excellent",
			CommissionType: models.CommissionTypePercentage, CommissionValue: 8,
		},
	}}
	st := &fakeInvoiceStore{}
	gen := newTestGenerator(st, rules)

	booking := &models.Booking{ID: 8, UserID: 123, Total: 200}
	svc := &models.Service{ID: 6, ProviderID: 3, ServiceType: models.ServiceTypeEvent, Rating: 3.0}

	invoices, err := gen.GenerateForBooking(context.Background(), booking, svc, defaultCfg())
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	// Rating tier "standard" misses the rule; the default 10% applies.
	assert.Equal(t, 20.0, invoices[0].CommissionAmount)
}
