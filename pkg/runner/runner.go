// Package runner drains due schedule entries and sweeps expired drafts.
// It is driven from outside (CLI invocation or cron); the core never
// self-triggers.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/bosun/pkg/audit"
	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/engine"
	"github.com/Mindburn-Labs/bosun/pkg/store"
)

// ScheduleActor is recorded on approvals fired by the runner.
const ScheduleActor = "scheduler"

const defaultConcurrency = 4

type Runner struct {
	engine   *engine.Engine
	register store.ScheduleRegister
	audit    audit.Logger
	logger   *slog.Logger
	limit    int
}

type Option func(*Runner)

func WithAudit(l audit.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.audit = l
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConcurrency bounds how many due drafts are approved in parallel.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.limit = n
		}
	}
}

func New(eng *engine.Engine, register store.ScheduleRegister, opts ...Option) *Runner {
	r := &Runner{
		engine:   eng,
		register: register,
		audit:    audit.Nop(),
		logger:   slog.Default(),
		limit:    defaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarizes one runner pass.
type Result struct {
	Fired   []string `json:"fired,omitempty"`
	Stale   []string `json:"stale,omitempty"`
	Errored []string `json:"errored,omitempty"`
	Expired []string `json:"expired,omitempty"`
}

// RunDue approves every schedule entry due at now. Approvals run with
// bounded concurrency. An entry is marked fired when the approve call
// completes, and also when it can never succeed (the draft moved on or
// is gone); transient errors leave the entry in place for the next pass.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (*Result, error) {
	entries, err := r.register.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due entries: %w", err)
	}

	var (
		mu  sync.Mutex
		res Result
	)

	g := &errgroup.Group{}
	g.SetLimit(r.limit)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			outcome := r.fire(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeFired:
				res.Fired = append(res.Fired, entry.DraftID)
			case outcomeStale:
				res.Stale = append(res.Stale, entry.DraftID)
			case outcomeErrored:
				res.Errored = append(res.Errored, entry.DraftID)
			}
			return nil
		})
	}
	_ = g.Wait()
	return &res, nil
}

type outcome int

const (
	outcomeFired outcome = iota
	outcomeStale
	outcomeErrored
)

func (r *Runner) fire(ctx context.Context, entry *store.ScheduleEntry) outcome {
	d, err := r.engine.Approve(ctx, entry.DraftID, ScheduleActor)
	switch {
	case err == nil:
		r.markFired(ctx, entry)
		_ = r.audit.Record(ctx, audit.EventScheduleFired, entry.DraftID, ScheduleActor, map[string]any{
			"entry_id": entry.ID,
			"status":   string(d.Status),
		})
		r.logger.Info("schedule fired",
			"draft_id", entry.DraftID,
			"entry_id", entry.ID,
			"status", d.Status,
		)
		return outcomeFired
	case draft.IsInvalidTransition(err), draft.IsNotFound(err):
		// The draft was handled some other way (rejected, expired,
		// approved by hand). The entry will never fire; retire it.
		r.markFired(ctx, entry)
		r.logger.Warn("schedule entry stale",
			"draft_id", entry.DraftID,
			"entry_id", entry.ID,
			"error", err,
		)
		return outcomeStale
	default:
		r.logger.Error("schedule approve failed, will retry next pass",
			"draft_id", entry.DraftID,
			"entry_id", entry.ID,
			"error", err,
		)
		return outcomeErrored
	}
}

func (r *Runner) markFired(ctx context.Context, entry *store.ScheduleEntry) {
	if err := r.register.MarkFired(ctx, entry.ID); err != nil {
		// Left scheduled, the next pass resolves it as stale.
		r.logger.Error("mark fired failed",
			"entry_id", entry.ID,
			"error", err,
		)
	}
}

// SweepExpired expires every overdue draft and reports their ids.
func (r *Runner) SweepExpired(ctx context.Context) ([]string, error) {
	expired, err := r.engine.ExpireDue(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(expired))
	for i, d := range expired {
		ids[i] = d.ID
	}
	return ids, nil
}

// RunOnce does one full pass: expiry sweep first, then the due drain.
// Sweeping first keeps an overdue-and-expired draft from being posted
// by the same pass that should have expired it.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) (*Result, error) {
	expired, err := r.SweepExpired(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.RunDue(ctx, now)
	if err != nil {
		return nil, err
	}
	res.Expired = expired
	return res, nil
}
