package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/finbase/revrec/internal/cache"
)

// RateStore counts requests per key inside a fixed window. Implementations
// must be safe for concurrent use.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// minRateWindow guards against a zero or negative window disabling limiting.
const minRateWindow = time.Minute

// memoryRateStore keeps counters in process memory. Suitable for a single
// instance; multi-instance deployments should use the cache-backed store so
// all replicas see the same counts.
type memoryRateStore struct {
	mu      sync.Mutex
	windows map[string]rateWindow
	clock   func() time.Time
}

type rateWindow struct {
	count int
	until time.Time
}

// NewMemoryRateStore constructs an in-memory rate store and starts a
// background sweep that drops expired windows once a minute.
func NewMemoryRateStore() RateStore {
	store := &memoryRateStore{
		windows: make(map[string]rateWindow),
		clock:   time.Now,
	}

	go func() {
		for range time.Tick(time.Minute) {
			store.sweep()
		}
	}()
	return store
}

func (s *memoryRateStore) sweep() {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if now.After(w.until) {
			delete(s.windows, key)
		}
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window < minRateWindow {
		window = minRateWindow
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.After(w.until) {
		w = rateWindow{until: now.Add(window)}
	}
	w.count++
	s.windows[key] = w

	return w.count, w.until.Sub(now), nil
}

// storeRateStore delegates counting to a shared cache.Store so limits hold
// across instances when Redis or the database cache is configured.
type storeRateStore struct {
	store cache.Store
}

// NewStoreRateStore wraps a cache store (Redis or database-backed) in a
// RateStore implementation. A nil store yields a nil RateStore, which the
// rate-limit middleware treats as "use the in-memory store".
func NewStoreRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window < minRateWindow {
		window = minRateWindow
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
