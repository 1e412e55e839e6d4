// Package engine drives the draft lifecycle: creation with validation
// and review flags, human approval and rejection, deferred scheduling,
// expiry sweeps, and the dispatch that follows an approval. Every
// transition lands in the audit trail.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/bosun/pkg/adapter"
	"github.com/Mindburn-Labs/bosun/pkg/audit"
	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/limiter"
	"github.com/Mindburn-Labs/bosun/pkg/observability"
	"github.com/Mindburn-Labs/bosun/pkg/policy"
	"github.com/Mindburn-Labs/bosun/pkg/store"
	"github.com/Mindburn-Labs/bosun/pkg/transport"
)

// CreateRequest describes a draft the agent wants reviewed.
type CreateRequest struct {
	Target   string
	Payload  string
	Category string
	Priority draft.Priority
	Actor    string
}

// Engine coordinates stores, the dispatch adapter, review rules and the
// audit trail.
type Engine struct {
	drafts    store.DraftStore
	register  store.ScheduleRegister
	adapter   adapter.Adapter
	registry  *adapter.Registry
	rules     *policy.Engine
	audit     audit.Logger
	obs       *observability.Provider
	logger    *slog.Logger
	clock     func() time.Time
	schemaDir string
	schemas   map[string]*jsonschema.Schema
}

// Option configures the engine.
type Option func(*Engine)

// WithAudit sets the audit sink. Defaults to a no-op logger.
func WithAudit(l audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// WithRules sets the review rule engine. Defaults to the built-in rules.
func WithRules(r *policy.Engine) Option {
	return func(e *Engine) { e.rules = r }
}

// WithClock injects the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObservability sets the telemetry provider.
func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

// WithSchemaDir resolves relative schema_file paths in target profiles
// against dir.
func WithSchemaDir(dir string) Option {
	return func(e *Engine) { e.schemaDir = dir }
}

// New builds an engine. Payload schemas referenced by target profiles
// are compiled here; a broken schema fails construction rather than
// skipping validation at create time.
func New(drafts store.DraftStore, register store.ScheduleRegister, ad adapter.Adapter, registry *adapter.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{
		drafts:   drafts,
		register: register,
		adapter:  ad,
		registry: registry,
		audit:    audit.Nop(),
		obs:      observability.Disabled(),
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.rules == nil {
		rules, err := policy.NewEngine(policy.DefaultRules())
		if err != nil {
			return nil, fmt.Errorf("compile default review rules: %w", err)
		}
		e.rules = rules
	}

	schemas, err := compileSchemas(registry, e.schemaDir)
	if err != nil {
		return nil, err
	}
	e.schemas = schemas
	return e, nil
}

func compileSchemas(registry *adapter.Registry, dir string) (map[string]*jsonschema.Schema, error) {
	out := make(map[string]*jsonschema.Schema)
	compiler := jsonschema.NewCompiler()
	for _, name := range registry.Names() {
		profile, _ := registry.Lookup(name)
		if profile.SchemaFile == "" {
			continue
		}
		path := profile.SchemaFile
		if dir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		schema, err := compiler.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("compile payload schema for target %s: %w", name, err)
		}
		out[name] = schema
	}
	return out, nil
}

// Create validates the request, runs the review rules, and persists the
// draft in pending_approval. Nothing is sent anywhere yet.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*draft.Draft, error) {
	ctx, done := e.obs.TrackOperation(ctx, "draft.create", attribute.String("target", req.Target))
	d, err := e.create(ctx, req)
	done(err)
	return d, err
}

func (e *Engine) create(ctx context.Context, req CreateRequest) (*draft.Draft, error) {
	if req.Target == "" {
		return nil, &draft.ValidationError{Field: "target", Reason: "must not be empty"}
	}
	if req.Payload == "" {
		return nil, &draft.ValidationError{Field: "payload", Reason: "must not be empty"}
	}
	if req.Priority != "" && !draft.ValidPriority(req.Priority) {
		return nil, &draft.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", req.Priority)}
	}

	profile, known := e.registry.Lookup(req.Target)
	category := req.Category
	if category == "" && known {
		category = profile.Kind
	}

	if schema, ok := e.schemas[req.Target]; ok {
		var doc any
		if err := json.Unmarshal([]byte(req.Payload), &doc); err != nil {
			return nil, &draft.ValidationError{Field: "payload", Reason: "target requires a JSON payload"}
		}
		if err := schema.Validate(doc); err != nil {
			return nil, &draft.ValidationError{Field: "payload", Reason: err.Error()}
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = draft.PriorityNormal
	}
	flags := e.rules.Review(ctx, policy.Input{
		Target:   req.Target,
		Payload:  req.Payload,
		Category: category,
		Priority: string(priority),
	})

	var expiresAt *time.Time
	if known && profile.ExpiryHours > 0 {
		t := e.clock().Add(time.Duration(profile.ExpiryHours) * time.Hour)
		expiresAt = &t
	}

	d, err := e.drafts.Create(ctx, store.CreateParams{
		Target:    req.Target,
		Payload:   req.Payload,
		Category:  category,
		Priority:  priority,
		Flags:     flags,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"target": d.Target, "priority": string(d.Priority)}
	if len(d.Flags) > 0 {
		meta["flags"] = d.Flags
	}
	_ = e.audit.Record(ctx, audit.EventDraftCreated, d.ID, req.Actor, meta)
	e.logger.Info("draft created",
		"draft_id", d.ID,
		"target", d.Target,
		"priority", d.Priority,
		"flags", d.Flags,
	)
	return d, nil
}

// Approve moves a draft to approved and dispatches it. The returned
// draft is posted on success or failed (and retriable via a fresh
// Approve) when dispatch gave up; the error is reserved for invalid
// transitions and store trouble.
func (e *Engine) Approve(ctx context.Context, id, actor string) (*draft.Draft, error) {
	d, err := e.drafts.Transition(ctx, id, draft.EventApprove, store.TransitionExtra{})
	if err != nil {
		return nil, err
	}
	_ = e.audit.Record(ctx, audit.EventDraftApproved, id, actor, map[string]any{"cycle": d.Attempts + 1})
	e.logger.Info("draft approved", "draft_id", id, "actor", actorOrSystem(actor))

	return e.dispatch(ctx, d, actor)
}

func (e *Engine) dispatch(ctx context.Context, d *draft.Draft, actor string) (*draft.Draft, error) {
	_ = e.audit.Record(ctx, audit.EventDispatchAttempt, d.ID, actor, map[string]any{
		"target": d.Target,
		"cycle":  d.Attempts + 1,
	})

	ctx, done := e.obs.TrackOperation(ctx, "draft.dispatch", attribute.String("target", d.Target))
	receipt, derr := e.adapter.Dispatch(ctx, d.Target, d.Payload, adapter.DispatchOptions{
		DraftID:  d.ID,
		Category: d.Category,
	})
	done(derr)

	if derr != nil {
		failed, terr := e.drafts.Transition(ctx, d.ID, draft.EventDispatchFailure, store.TransitionExtra{
			FailureReason: derr.Error(),
		})
		if terr != nil {
			return nil, terr
		}

		meta := map[string]any{"target": d.Target, "reason": derr.Error()}
		var dfe *transport.DispatchFailedError
		if errors.As(derr, &dfe) {
			meta["attempts"] = dfe.Attempts
			_ = e.audit.Record(ctx, audit.EventRetryExhausted, d.ID, actor, meta)
		}
		_ = e.audit.Record(ctx, audit.EventDispatchFailure, d.ID, actor, meta)
		e.logger.Warn("dispatch failed, draft held for retry",
			"draft_id", d.ID,
			"target", d.Target,
			"error", derr,
		)
		return failed, nil
	}

	posted, terr := e.drafts.Transition(ctx, d.ID, draft.EventDispatchSuccess, store.TransitionExtra{
		Receipt: receipt,
	})
	if terr != nil {
		return nil, terr
	}
	_ = e.audit.Record(ctx, audit.EventDispatchSuccess, d.ID, actor, map[string]any{
		"target":     d.Target,
		"receipt_id": receipt.ID,
		"simulated":  receipt.Simulated,
	})
	e.logger.Info("draft dispatched",
		"draft_id", d.ID,
		"target", d.Target,
		"receipt_id", receipt.ID,
		"simulated", receipt.Simulated,
	)
	return posted, nil
}

// Reject closes a draft with reviewer feedback. Feedback is mandatory:
// a bare rejection teaches the agent nothing.
func (e *Engine) Reject(ctx context.Context, id, feedback, actor string) (*draft.Draft, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, &draft.ValidationError{Field: "feedback", Reason: "rejection requires feedback"}
	}
	d, err := e.drafts.Transition(ctx, id, draft.EventReject, store.TransitionExtra{Feedback: feedback})
	if err != nil {
		return nil, err
	}
	_ = e.audit.Record(ctx, audit.EventDraftRejected, id, actor, map[string]any{"feedback": feedback})
	e.logger.Info("draft rejected", "draft_id", id, "actor", actorOrSystem(actor))
	return d, nil
}

// Schedule defers a draft's approval to dueAt, which must be in the
// future. The returned entry is what a due runner later fires.
func (e *Engine) Schedule(ctx context.Context, id string, dueAt time.Time, actor string) (*draft.Draft, *store.ScheduleEntry, error) {
	if !dueAt.After(e.clock()) {
		return nil, nil, &draft.ValidationError{Field: "due_at", Reason: "must be in the future"}
	}
	d, err := e.drafts.Transition(ctx, id, draft.EventSchedule, store.TransitionExtra{DueAt: &dueAt})
	if err != nil {
		return nil, nil, err
	}
	entry, err := e.register.Add(ctx, id, dueAt)
	if err != nil {
		return nil, nil, fmt.Errorf("register schedule entry: %w", err)
	}
	_ = e.audit.Record(ctx, audit.EventDraftScheduled, id, actor, map[string]any{
		"due_at":   dueAt.UTC().Format(time.RFC3339),
		"entry_id": entry.ID,
	})
	e.logger.Info("draft scheduled", "draft_id", id, "due_at", dueAt, "entry_id", entry.ID)
	return d, entry, nil
}

// ExpireDue sweeps pending and scheduled drafts whose expiry has passed
// and moves them to expired. Races with concurrent approvals resolve in
// the approval's favor.
func (e *Engine) ExpireDue(ctx context.Context) ([]*draft.Draft, error) {
	now := e.clock()
	var expired []*draft.Draft
	for _, status := range []draft.Status{draft.StatusPendingApproval, draft.StatusScheduled} {
		drafts, err := e.drafts.List(ctx, draft.Filter{Status: status})
		if err != nil {
			return expired, err
		}
		for _, d := range drafts {
			if d.ExpiresAt == nil || now.Before(*d.ExpiresAt) {
				continue
			}
			got, err := e.drafts.Transition(ctx, d.ID, draft.EventExpire, store.TransitionExtra{})
			if err != nil {
				if draft.IsInvalidTransition(err) {
					continue
				}
				return expired, err
			}
			_ = e.audit.Record(ctx, audit.EventDraftExpired, d.ID, "", map[string]any{
				"expired_at": d.ExpiresAt.UTC().Format(time.RFC3339),
			})
			e.logger.Info("draft expired", "draft_id", d.ID, "target", d.Target)
			expired = append(expired, got)
		}
	}
	return expired, nil
}

// Get returns one draft.
func (e *Engine) Get(ctx context.Context, id string) (*draft.Draft, error) {
	return e.drafts.Get(ctx, id)
}

// List returns drafts matching the filter, higher priority first and
// creation order within a priority.
func (e *Engine) List(ctx context.Context, f draft.Filter) ([]*draft.Draft, error) {
	drafts, err := e.drafts.List(ctx, f)
	if err != nil {
		return nil, err
	}
	// Stores hand back creation order; a stable sort on rank preserves
	// it within each priority.
	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].Priority.Rank() > drafts[j].Priority.Rank()
	})
	return drafts, nil
}

// LimitStatus reports the rate bucket for a target without consuming
// tokens.
func (e *Engine) LimitStatus(ctx context.Context, target string) (limiter.Status, error) {
	return e.adapter.RateLimitStatus(ctx, target)
}

// Metrics fetches per-target metrics through the adapter.
func (e *Engine) Metrics(ctx context.Context, target, period string) (*adapter.Metrics, error) {
	return e.adapter.FetchMetrics(ctx, target, period)
}

// Targets exposes the configured target profiles.
func (e *Engine) Targets() *adapter.Registry {
	return e.registry
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
