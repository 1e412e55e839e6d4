package adapter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/limiter"
)

// Simulated implements Adapter without any I/O. Dispatch is deterministic
// given (target, payload, counter): the same inputs always produce the
// same truncated content and content hash, and receipt ids increase
// monotonically. It still applies the target's char limit, so tests
// against simulate mode exercise the real constraint.
type Simulated struct {
	registry *Registry
	limiter  *limiter.Limiter
	clock    func() time.Time
	counter  atomic.Uint64
}

// SimulatedOption configures the simulated adapter.
type SimulatedOption func(*Simulated)

// WithSimulatedClock injects the receipt timestamp source for tests.
func WithSimulatedClock(clock func() time.Time) SimulatedOption {
	return func(s *Simulated) { s.clock = clock }
}

// NewSimulated builds the simulate-mode adapter.
func NewSimulated(registry *Registry, lim *limiter.Limiter, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		registry: registry,
		limiter:  lim,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Dispatch(_ context.Context, target, payload string, _ DispatchOptions) (*draft.Receipt, error) {
	profile, _ := s.registry.Lookup(target)
	content := Truncate(payload, profile.CharLimit)
	n := s.counter.Add(1)
	return &draft.Receipt{
		ID:          fmt.Sprintf("sim_%s_%06d", target, n),
		PostedAt:    s.clock(),
		Simulated:   true,
		ContentHash: ContentHash(target, content),
	}, nil
}

// Reference metric fixtures per target kind. Fixed values on purpose:
// they double as golden fixtures for report-layer tests.
var simulatedSocialMetrics = map[string]float64{
	"impressions": 1200,
	"likes":       240,
	"comments":    18,
	"shares":      7,
}

var simulatedAccountingMetrics = map[string]float64{
	"entries":      12,
	"debit_total":  4890.50,
	"credit_total": 4890.50,
}

var simulatedDefaultMetrics = map[string]float64{
	"operations": 42,
}

func (s *Simulated) FetchMetrics(_ context.Context, target, period string) (*Metrics, error) {
	profile, _ := s.registry.Lookup(target)
	var src map[string]float64
	switch profile.Kind {
	case KindSocial:
		src = simulatedSocialMetrics
	case KindAccounting:
		src = simulatedAccountingMetrics
	default:
		src = simulatedDefaultMetrics
	}
	values := make(map[string]float64, len(src))
	for k, v := range src {
		values[k] = v
	}
	return &Metrics{
		Target:    target,
		Period:    period,
		Values:    values,
		Simulated: true,
	}, nil
}

func (s *Simulated) RateLimitStatus(ctx context.Context, target string) (limiter.Status, error) {
	return s.limiter.Status(ctx, target)
}

func (s *Simulated) Metadata(target string) (Profile, bool) {
	return s.registry.Lookup(target)
}
