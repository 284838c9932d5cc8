package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrBucketUninitialized means the occupancy bucket for a resource/day
// has no seeded capacity yet. Callers seed it via InitBucket and retry.
var ErrBucketUninitialized = errors.New("occupancy bucket not initialized")

//go:embed scripts/hold_capacity.lua
var holdCapacityScript string

//go:embed scripts/release_hold.lua
var releaseHoldScript string

//go:embed scripts/init_bucket.lua
var initBucketScript string

// Client is the Redis fast path for checkout. It tracks short-lived
// capacity holds per (resource, day bucket) so concurrent checkouts
// against the same resource fail fast before reaching the database;
// the row-locked reservation transaction stays authoritative.
type Client struct {
	rdb           *redis.Client
	holdScript    *redis.Script
	releaseScript *redis.Script
	initScript    *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		holdScript:    redis.NewScript(holdCapacityScript),
		releaseScript: redis.NewScript(releaseHoldScript),
		initScript:    redis.NewScript(initBucketScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

const dayBucket = "2006-01-02"

func occupancyKey(kind string, resourceID int64, at time.Time) string {
	return fmt.Sprintf("occupancy:%s:%d:%s", kind, resourceID, at.UTC().Format(dayBucket))
}

// HoldCapacity atomically places a short-lived capacity hold on one
// resource/day bucket. Returns (true, nil) when the hold was placed,
// (false, nil) when capacity is exhausted. An uninitialized bucket is
// reported as an error so the caller falls back to the database check.
func (c *Client) HoldCapacity(ctx context.Context, kind string, resourceID int64, day time.Time, quantity int, ttl time.Duration) (bool, error) {
	key := occupancyKey(kind, resourceID, day)

	result, err := c.holdScript.Run(ctx, c.rdb, []string{key}, quantity, int(ttl.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("hold capacity script failed: %w", err)
	}

	outcome, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	if outcome < 0 {
		return false, ErrBucketUninitialized
	}

	return outcome == 1, nil
}

// ReleaseHold atomically drops a previously placed capacity hold
func (c *Client) ReleaseHold(ctx context.Context, kind string, resourceID int64, day time.Time, quantity int) error {
	key := occupancyKey(kind, resourceID, day)

	_, err := c.releaseScript.Run(ctx, c.rdb, []string{key}, quantity).Result()
	if err != nil {
		return fmt.Errorf("release hold script failed: %w", err)
	}
	return nil
}

// InitBucket seeds an occupancy bucket with its capacity and current
// held count. Seeding an already-live bucket is a no-op beyond
// refreshing its TTL, so concurrent seeders cannot erase holds.
func (c *Client) InitBucket(ctx context.Context, kind string, resourceID int64, day time.Time, capacity, held int, ttl time.Duration) error {
	key := occupancyKey(kind, resourceID, day)

	_, err := c.initScript.Run(ctx, c.rdb, []string{key}, capacity, held, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("init bucket script failed: %w", err)
	}
	return nil
}

// SetIdempotencyKey caches a checkout idempotency key with TTL so fast
// replays short-circuit before the database lookup
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey reads a cached idempotency value; empty string
// means not cached
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return value, err
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
