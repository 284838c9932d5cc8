package service

import (
	"context"
	"errors"
	"time"

	"booking-service/internal/availability"
	"booking-service/internal/redisclient"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// CapacityHolds is the Redis surface the guard places holds through
type CapacityHolds interface {
	HoldCapacity(ctx context.Context, kind string, resourceID int64, day time.Time, quantity int, ttl time.Duration) (bool, error)
	ReleaseHold(ctx context.Context, kind string, resourceID int64, day time.Time, quantity int) error
	InitBucket(ctx context.Context, kind string, resourceID int64, day time.Time, capacity, held int, ttl time.Duration) error
}

// CapacityGuard runs the checkout availability pre-check. When Redis
// is reachable it also places a short-lived capacity hold so the
// window between quote and payment capture is protected against
// concurrent checkouts; the row-locked reservation transaction remains
// the authoritative gate at fulfillment time.
type CapacityGuard struct {
	engine  *availability.Engine
	redis   CapacityHolds
	holdTTL time.Duration
	logger  *zap.Logger
}

// NewCapacityGuard creates a capacity guard. redis may be nil; the
// guard then checks the database only.
func NewCapacityGuard(engine *availability.Engine, redis CapacityHolds, holdTTL time.Duration) *CapacityGuard {
	return &CapacityGuard{
		engine:  engine,
		redis:   redis,
		holdTTL: holdTTL,
		logger:  util.GetLogger(),
	}
}

func holdKind(tableID int64) string {
	if tableID > 0 {
		return "table"
	}
	return "service"
}

func holdResource(req availability.Request) int64 {
	if req.TableID > 0 {
		return req.TableID
	}
	return req.ServiceID
}

// holdUnits is what the request occupies in the Redis bucket:
// individuals for a headcount-capped service, units otherwise. It
// matches the scale of the engine's RemainingCapacity.
func holdUnits(req availability.Request) int {
	if req.Headcount > 0 {
		return req.Headcount
	}
	return req.Quantity
}

// CheckAndHold answers the availability question and, on success,
// places a Redis hold for the request's start day.
func (g *CapacityGuard) CheckAndHold(ctx context.Context, req availability.Request) (*availability.Result, error) {
	result, err := g.engine.CheckAvailability(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Available {
		return result, nil
	}

	if g.redis == nil {
		return result, nil
	}

	kind, resource, units := holdKind(req.TableID), holdResource(req), holdUnits(req)

	held, err := g.redis.HoldCapacity(ctx, kind, resource, req.Start, units, g.holdTTL)
	if errors.Is(err, redisclient.ErrBucketUninitialized) {
		// First hold for this resource/day (or the bucket expired): seed
		// it from the database's remaining capacity and retry once.
		if seedErr := g.redis.InitBucket(ctx, kind, resource, req.Start, result.RemainingCapacity, 0, g.holdTTL); seedErr != nil {
			g.logger.Warn("failed to seed occupancy bucket, continuing on database check",
				zap.Int64("service_id", req.ServiceID),
				zap.Error(seedErr))
			return result, nil
		}
		held, err = g.redis.HoldCapacity(ctx, kind, resource, req.Start, units, g.holdTTL)
	}
	if err != nil {
		// Fast path unavailable; the database check already passed.
		g.logger.Warn("capacity hold failed, continuing on database check",
			zap.Int64("service_id", req.ServiceID),
			zap.Error(err))
		return result, nil
	}
	if !held {
		result.Available = false
		result.Reason = "capacity held by concurrent checkout"
		util.AvailabilityConflictsTotal.Inc()
	}

	return result, nil
}

// Release drops a hold placed by CheckAndHold after a failed checkout.
// Successful checkouts let holds expire naturally once the bookings
// exist.
func (g *CapacityGuard) Release(ctx context.Context, req availability.Request) {
	if g.redis == nil {
		return
	}
	if err := g.redis.ReleaseHold(ctx, holdKind(req.TableID), holdResource(req), req.Start, holdUnits(req)); err != nil {
		g.logger.Warn("failed to release capacity hold",
			zap.Int64("service_id", req.ServiceID),
			zap.Error(err))
	}
}
