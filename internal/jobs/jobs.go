package jobs

import (
	"context"
	"time"

	"booking-service/internal/redisclient"
	"booking-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PointsExpirer writes the offsetting ledger rows for earn entries
// whose validity window has passed
type PointsExpirer interface {
	ExpirePoints(ctx context.Context) (int64, error)
}

// expiryLockKey serializes the sweep across replicas
const expiryLockKey = "points-expiry-sweep"

// Scheduler owns the background cron jobs
type Scheduler struct {
	cron   *cron.Cron
	store  PointsExpirer
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewScheduler creates the job scheduler. redis may be nil; jobs then
// run on every replica, which is safe because the sweep's offset
// inserts are deduplicated per earn entry.
func NewScheduler(store PointsExpirer, redis *redisclient.Client) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// Start registers and starts the jobs. The expiry sweep is audit-only:
// the balance query already excludes expired rows, so a missed run
// never inflates a balance.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.expirePoints); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("job scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("job scheduler stopped")
}

func (s *Scheduler) expirePoints() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if s.redis != nil {
		acquired, err := s.redis.AcquireLock(ctx, expiryLockKey, 2*time.Minute)
		if err != nil {
			s.logger.Warn("expiry lock unavailable, running sweep anyway", zap.Error(err))
		} else if !acquired {
			s.logger.Debug("points expiry sweep skipped, another replica holds the lock")
			return
		} else {
			defer func() {
				if err := s.redis.ReleaseLock(ctx, expiryLockKey); err != nil {
					s.logger.Warn("failed to release expiry lock", zap.Error(err))
				}
			}()
		}
	}

	expired, err := s.store.ExpirePoints(ctx)
	if err != nil {
		s.logger.Error("points expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		util.PointsExpiredTotal.Add(float64(expired))
		s.logger.Info("points expiry sweep completed", zap.Int64("entries", expired))
	}
}
