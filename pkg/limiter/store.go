package limiter

import (
	"context"
	"math"
	"sync"
	"time"
)

// Store owns the token math for all buckets. Implementations must
// serialize updates per target while leaving different targets free to
// proceed concurrently.
type Store interface {
	// Take refills target's bucket lazily, then consumes one token if a
	// whole token is present. With force set it consumes regardless,
	// clamping the level at zero (the post-wait grant). The returned level
	// is the token count after the operation.
	Take(ctx context.Context, target string, cfg TargetConfig, force bool) (granted bool, tokens float64, err error)
	// Peek refills lazily and reports the level without consuming.
	Peek(ctx context.Context, target string, cfg TargetConfig) (tokens float64, err error)
}

// bucket state is guarded by its own mutex so one target's wait never
// blocks another target's acquire.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

func (b *bucket) refill(cfg TargetConfig, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Minutes()
	if elapsed > 0 {
		b.tokens = math.Min(cfg.Capacity, b.tokens+elapsed*cfg.RefillPerMinute)
	}
	b.lastRefill = now
}

// MemoryStore keeps buckets in-process. It is the default store; use the
// Redis store when several processes share one target's budget.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   Clock
}

// NewMemoryStore builds an empty in-process bucket store.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = wallClock{}
	}
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		clock:   clock,
	}
}

func (s *MemoryStore) getBucket(target string, cfg TargetConfig) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[target]
	if !ok {
		b = &bucket{tokens: cfg.Capacity, lastRefill: s.clock.Now()}
		s.buckets[target] = b
	}
	return b
}

func (s *MemoryStore) Take(_ context.Context, target string, cfg TargetConfig, force bool) (bool, float64, error) {
	b := s.getBucket(target, cfg)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(cfg, s.clock.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens, nil
	}
	if force {
		b.tokens = math.Max(0, b.tokens-1)
		return true, b.tokens, nil
	}
	return false, b.tokens, nil
}

func (s *MemoryStore) Peek(_ context.Context, target string, cfg TargetConfig) (float64, error) {
	b := s.getBucket(target, cfg)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(cfg, s.clock.Now())
	return b.tokens, nil
}
