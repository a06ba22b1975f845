package cache

import (
	"context"
	"time"
)

// Store is the shared TTL cache behind session lookups and API rate-limit
// counters. Two backings exist: DatabaseStore keeps entries in the primary
// database for single-node deployments, RedisClient shares them across
// replicas. Both prune expired entries rather than serving them.
type Store interface {
	// IncrementWithTTL bumps a counter, starting the window on first use,
	// and reports the count together with the window's remaining TTL.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get reports (nil, false, nil) for a missing or expired key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

var (
	_ Store = (*DatabaseStore)(nil)
	_ Store = (*RedisClient)(nil)
)
