// Package availability decides whether a bookable resource has
// capacity for a requested window. Insufficient capacity is a result,
// not an error; a missing or unapproved resource is an error. The
// engine's read is advisory only: the race-safe gate is the row-locked
// reservation transaction in the store.
package availability

import (
	"context"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Source is the persistence surface the engine reads from
type Source interface {
	GetServiceByID(ctx context.Context, id int64) (*models.Service, error)
	GetTableByID(ctx context.Context, id int64) (*models.RestaurantTable, error)
	GetBlocksOverlapping(ctx context.Context, serviceID int64, start, end time.Time) ([]models.AvailabilityBlock, error)
	ListServiceOccupancy(ctx context.Context, serviceID int64, start, end time.Time) ([]store.Occupancy, error)
	ListTableOccupancy(ctx context.Context, table *models.RestaurantTable, start, end time.Time) ([]store.Occupancy, error)
}

// Request is one capacity question. Headcount is the total number of
// individuals across all requested units; callers set it for
// headcount-capped services and leave it zero otherwise.
type Request struct {
	ServiceID int64
	TableID   int64
	Start     time.Time
	End       time.Time
	Quantity  int
	Headcount int
}

// Result is the engine's answer
type Result struct {
	Available         bool   `json:"available"`
	RemainingCapacity int    `json:"remaining_capacity"`
	Reason            string `json:"reason,omitempty"`
}

// Engine answers capacity questions
type Engine struct {
	source Source
	logger *zap.Logger
}

// NewEngine creates an availability engine
func NewEngine(source Source) *Engine {
	return &Engine{source: source, logger: util.GetLogger()}
}

// Overlaps reports half-open interval overlap:
// [aStart, aEnd) intersects [bStart, bEnd).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// CheckAvailability determines whether capacity exists for the request,
// considering existing occupying reservations, provider blackout
// blocks, and the table's re-availability policy.
func (e *Engine) CheckAvailability(ctx context.Context, req Request) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityEngine.CheckAvailability")
	defer span.End()

	if req.Quantity < 1 {
		req.Quantity = 1
	}

	svc, err := e.source.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Approved {
		return nil, models.ErrServiceNotActive
	}

	blocks, err := e.source.GetBlocksOverlapping(ctx, req.ServiceID, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	if len(blocks) > 0 {
		// A blackout rejects the window regardless of quantity.
		return &Result{Available: false, Reason: "blocked by provider"}, nil
	}

	if req.TableID > 0 {
		return e.checkTable(ctx, req)
	}
	return e.checkService(ctx, svc, req)
}

// checkService handles quantity-capped and headcount-capped resources.
// Capacity is implicitly 1 for a quantity-less resource unless
// max_individuals defines a headcount pool, in which case occupied is
// a headcount sum rather than a reservation count.
func (e *Engine) checkService(ctx context.Context, svc *models.Service, req Request) (*Result, error) {
	rows, err := e.source.ListServiceOccupancy(ctx, svc.ID, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	headcountPool := svc.MaxIndividuals > 0

	occupied := 0
	for _, row := range rows {
		if !Overlaps(row.StartTime, row.EndTime, req.Start, req.End) {
			continue
		}
		if headcountPool && row.Headcount > 0 {
			occupied += row.Headcount
		} else {
			occupied += row.Quantity
		}
	}

	capacity := svc.TotalUnits
	if capacity == 0 {
		capacity = 1
	}
	requested := req.Quantity
	if headcountPool {
		capacity = svc.MaxIndividuals
		if req.Headcount > 0 {
			requested = req.Headcount
		}
	}

	remaining := capacity - occupied
	result := &Result{Available: remaining >= requested, RemainingCapacity: remaining}
	if !result.Available {
		result.Reason = "capacity exceeded"
		util.AvailabilityConflictsTotal.Inc()
	}

	e.logger.Debug("service availability checked",
		zap.Int64("service_id", svc.ID),
		zap.Int("occupied", occupied),
		zap.Int("remaining", remaining))

	return result, nil
}

// checkTable counts occupied units of one table pool. For AUTO tables
// the store already extends each reservation's end by the cooldown;
// MANUAL reservations occupy until explicitly released.
func (e *Engine) checkTable(ctx context.Context, req Request) (*Result, error) {
	table, err := e.source.GetTableByID(ctx, req.TableID)
	if err != nil {
		return nil, err
	}

	rows, err := e.source.ListTableOccupancy(ctx, table, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	occupied := len(rows)
	remaining := table.Quantity - occupied

	result := &Result{Available: remaining >= req.Quantity, RemainingCapacity: remaining}
	if !result.Available {
		result.Reason = "no table units remaining"
		util.AvailabilityConflictsTotal.Inc()
	}
	return result, nil
}
