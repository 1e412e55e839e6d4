// Package limiter gates outbound dispatches with one token bucket per
// target. Buckets refill lazily on access (there is no background timer)
// and a caller that finds the bucket empty suspends for the computed refill
// time instead of busy-polling. Targets with no configuration are
// unlimited.
package limiter

import (
	"context"
	"math"
	"sort"
	"time"
)

// TargetConfig sizes one target's bucket.
type TargetConfig struct {
	Capacity        float64
	RefillPerMinute float64
}

// Status is a non-consuming snapshot of one bucket. Reading it performs
// the same lazy refill as Acquire but never takes a token.
type Status struct {
	Target       string  `json:"target"`
	AvailableNow bool    `json:"available_now"`
	TokensFloor  int     `json:"tokens_floor"`
	Capacity     float64 `json:"capacity"`
	Unlimited    bool    `json:"unlimited"`
}

// Clock abstracts time so acquire waits are testable without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// Limiter fronts a bucket store with blocking acquisition.
type Limiter struct {
	targets map[string]TargetConfig
	store   Store
	clock   Clock
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore swaps the bucket storage, e.g. for the Redis store shared
// across processes.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithClock injects a clock for tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New builds a Limiter over the configured targets. A nil or empty target
// map means every target is unlimited.
func New(targets map[string]TargetConfig, opts ...Option) *Limiter {
	l := &Limiter{
		targets: make(map[string]TargetConfig, len(targets)),
		clock:   wallClock{},
	}
	for name, cfg := range targets {
		l.targets[name] = cfg
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore(l.clock)
	}
	return l
}

// Acquire blocks until one token is available for target, consumes it, and
// returns. Unconfigured targets return immediately. When the bucket is
// short, the wait is (1 - tokens) / refillRate minutes; after sleeping the
// token is granted unconditionally, with the bucket clamped at zero so a
// skewed clock can never drive it negative. The wait is bounded and not
// cancellable; ctx only covers bucket-store round trips.
func (l *Limiter) Acquire(ctx context.Context, target string) error {
	cfg, ok := l.targets[target]
	if !ok {
		return nil
	}
	granted, tokens, err := l.store.Take(ctx, target, cfg, false)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}
	waitMinutes := (1 - tokens) / cfg.RefillPerMinute
	l.clock.Sleep(time.Duration(waitMinutes * float64(time.Minute)))
	_, _, err = l.store.Take(ctx, target, cfg, true)
	return err
}

// Status reports the bucket level for target without consuming.
func (l *Limiter) Status(ctx context.Context, target string) (Status, error) {
	cfg, ok := l.targets[target]
	if !ok {
		return Status{Target: target, AvailableNow: true, Unlimited: true}, nil
	}
	tokens, err := l.store.Peek(ctx, target, cfg)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Target:       target,
		AvailableNow: tokens >= 1,
		TokensFloor:  int(math.Floor(tokens)),
		Capacity:     cfg.Capacity,
	}, nil
}

// Configured reports whether target has a bucket.
func (l *Limiter) Configured(target string) bool {
	_, ok := l.targets[target]
	return ok
}

// Targets lists the configured target names, sorted.
func (l *Limiter) Targets() []string {
	out := make([]string, 0, len(l.targets))
	for name := range l.targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
