package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChargeRequest is one payment capture attempt. The idempotency token
// is derived from the order (or booking) so a timeout-retry of the
// same charge cannot double-bill.
type ChargeRequest struct {
	Amount           float64
	Currency         string
	Method           string
	IdempotencyToken string
}

// ChargeResult mirrors the gateway's response statuses
type ChargeResult struct {
	TransactionID string
	Status        string
}

// PaymentGateway is the external payment collaborator
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// MockGateway simulates a payment provider. Results are memoized per
// idempotency token, so retrying a charge returns the original outcome
// instead of charging twice.
type MockGateway struct {
	mu          sync.Mutex
	results     map[string]*ChargeResult
	successRate float64
	logger      *zap.Logger
}

// NewMockGateway creates a mock gateway
func NewMockGateway(successRate float64) *MockGateway {
	return &MockGateway{
		results:     make(map[string]*ChargeResult),
		successRate: successRate,
		logger:      util.GetLogger(),
	}
}

// Charge simulates a capture with bounded latency
func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.IdempotencyToken == "" {
		return nil, fmt.Errorf("%w: idempotency token required", models.ErrValidation)
	}

	g.mu.Lock()
	if prior, ok := g.results[req.IdempotencyToken]; ok {
		g.mu.Unlock()
		g.logger.Info("charge replayed for idempotency token",
			zap.String("token", req.IdempotencyToken),
			zap.String("status", prior.Status))
		return prior, nil
	}
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: gateway call cancelled: %v", models.ErrTransientInfra, ctx.Err())
	case <-time.After(time.Duration(50+rand.Intn(200)) * time.Millisecond):
	}

	result := &ChargeResult{}
	if rand.Float64() < g.successRate {
		result.Status = models.PaymentStatusCompleted
		result.TransactionID = fmt.Sprintf("TXN-%s", uuid.New().String()[:8])
	} else {
		result.Status = models.PaymentStatusFailed
	}

	g.mu.Lock()
	g.results[req.IdempotencyToken] = result
	g.mu.Unlock()

	g.logger.Info("charge processed",
		zap.String("token", req.IdempotencyToken),
		zap.Float64("amount", req.Amount),
		zap.String("status", result.Status))

	return result, nil
}
