// Package store persists drafts and schedule entries. It is the sole
// owner of draft identity and status transitions: every lifecycle edge
// goes through Transition, which validates the edge against the
// transition table and applies it atomically (compare-and-swap on status),
// so two concurrent callers can never interleave on the same draft.
//
// Three backends implement the same interfaces: in-memory for tests and
// development, SQLite as the durable default, Postgres for shared
// deployments.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
)

// CreateParams describes a draft to be created. Validation beyond the
// non-empty payload (size limits, schema, policy flags) happens in the
// approval engine before the store is reached.
type CreateParams struct {
	Target    string
	Payload   string
	Category  string
	Priority  draft.Priority
	Flags     []string
	ExpiresAt *time.Time
}

// TransitionExtra carries the per-event payload of a transition. Only the
// fields relevant to the event are read.
type TransitionExtra struct {
	Feedback      string
	Receipt       *draft.Receipt
	FailureReason string
	DueAt         *time.Time
}

// DraftStore owns draft records and their lifecycle.
type DraftStore interface {
	Create(ctx context.Context, p CreateParams) (*draft.Draft, error)
	Get(ctx context.Context, id string) (*draft.Draft, error)
	// List returns a point-in-time snapshot in insertion order.
	List(ctx context.Context, f draft.Filter) ([]*draft.Draft, error)
	// Transition applies one lifecycle edge atomically.
	Transition(ctx context.Context, id string, event draft.Event, extra TransitionExtra) (*draft.Draft, error)
	Close() error
}

// Schedule entry states.
const (
	ScheduleStatusScheduled = "scheduled"
	ScheduleStatusFired     = "fired"
)

// ScheduleEntry defers one draft's approval to a future time. The
// register is a lookup table for an external time-driven caller; nothing
// here self-triggers.
type ScheduleEntry struct {
	ID      string    `json:"id"`
	DraftID string    `json:"draft_id"`
	DueAt   time.Time `json:"due_at"`
	Status  string    `json:"status"`
}

// ErrEntryNotFound reports an unknown schedule entry id.
var ErrEntryNotFound = errors.New("schedule entry not found")

// ScheduleRegister records deferred approvals.
type ScheduleRegister interface {
	Add(ctx context.Context, draftID string, dueAt time.Time) (*ScheduleEntry, error)
	// ListDue returns entries with dueAt <= now still in the scheduled
	// state, ordered by due time.
	ListDue(ctx context.Context, now time.Time) ([]*ScheduleEntry, error)
	// MarkFired flips an entry to fired. Re-firing an already-fired entry
	// is a no-op so runners can retry safely.
	MarkFired(ctx context.Context, entryID string) error
	Close() error
}

type options struct {
	clock func() time.Time
}

// Option configures a store backend.
type Option func(*options)

// WithClock injects the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// applyTransition computes the post-transition draft. It never mutates
// its input; backends persist the returned clone with a status CAS. All
// timestamp fields are set-once: a re-approval after failure keeps the
// original ApprovedAt, and the audit trail carries the repeat.
func applyTransition(d *draft.Draft, event draft.Event, extra TransitionExtra, now time.Time) (*draft.Draft, error) {
	next, err := draft.Next(d.Status, event)
	if err != nil {
		var ite *draft.InvalidTransitionError
		if errors.As(err, &ite) {
			ite.ID = d.ID
		}
		return nil, err
	}

	// A scheduled draft only becomes approvable once its due time has
	// been reached.
	if d.Status == draft.StatusScheduled && event == draft.EventApprove {
		if d.ScheduledFor == nil || now.Before(*d.ScheduledFor) {
			return nil, &draft.InvalidTransitionError{
				ID:     d.ID,
				From:   d.Status,
				Event:  event,
				Reason: "scheduled time not reached",
			}
		}
	}

	out := d.Clone()
	out.Status = next

	switch event {
	case draft.EventApprove:
		if out.ApprovedAt == nil {
			t := now
			out.ApprovedAt = &t
		}
	case draft.EventReject:
		t := now
		out.RejectedAt = &t
		out.Feedback = extra.Feedback
	case draft.EventSchedule:
		if extra.DueAt == nil {
			return nil, &draft.ValidationError{Field: "due_at", Reason: "schedule requires a due time"}
		}
		t := *extra.DueAt
		out.ScheduledFor = &t
	case draft.EventDispatchSuccess:
		t := now
		out.PostedAt = &t
		out.Receipt = extra.Receipt
		out.Attempts++
	case draft.EventDispatchFailure:
		out.FailureReason = extra.FailureReason
		out.Attempts++
	case draft.EventExpire:
		// Status change only; expiry has no dedicated timestamp field.
	}
	return out, nil
}

func defaultPriority(p draft.Priority) draft.Priority {
	if p == "" {
		return draft.PriorityNormal
	}
	return p
}

func newEntryID() string {
	return uuid.NewString()
}

func sortEntries(entries []*ScheduleEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DueAt.Before(entries[j].DueAt)
	})
}
