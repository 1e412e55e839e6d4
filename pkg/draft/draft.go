// Package draft defines the unit of proposed outbound work and its
// lifecycle. A Draft is created pending human approval and moves along a
// fixed transition table (see status.go) until it reaches a terminal state.
// All status changes go through a store's transition operation so the
// invariants are enforced in one place.
package draft

import "time"

// Priority is caller-supplied and used for reporting and list ordering
// only; the state machine never interprets it.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the ordering weight of a priority. Unknown values rank
// below low so malformed records sink to the bottom of listings.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// ValidPriority reports whether p is one of the declared priorities.
func ValidPriority(p Priority) bool {
	_, ok := priorityRank[p]
	return ok
}

// Receipt records a successful dispatch. The content hash is a SHA-256
// over the JCS-canonicalized dispatch content, so identical payloads to the
// same target hash identically in both simulate and live mode.
type Receipt struct {
	ID          string    `json:"id"`
	PostedAt    time.Time `json:"posted_at"`
	Simulated   bool      `json:"simulated"`
	ContentHash string    `json:"content_hash,omitempty"`
}

// Draft is a unit of proposed outbound work.
//
// Timestamp fields are set exactly once, when the corresponding transition
// first occurs. Re-approving a failed draft does not overwrite ApprovedAt;
// the audit trail carries every approval event. At most one of ApprovedAt
// and RejectedAt is ever set.
type Draft struct {
	ID       string   `json:"id"`
	Target   string   `json:"target"`
	Payload  string   `json:"payload"`
	Category string   `json:"category,omitempty"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// Flags are advisory review markers attached at creation by policy
	// rules. Append-only.
	Flags []string `json:"flags,omitempty"`

	// Attempts counts dispatch attempts across all approval cycles.
	Attempts int `json:"attempts"`

	CreatedAt    time.Time  `json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	Feedback      string   `json:"feedback,omitempty"`
	Receipt       *Receipt `json:"receipt,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state behind the store's back.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	out := *d
	if d.Flags != nil {
		out.Flags = append([]string(nil), d.Flags...)
	}
	out.ApprovedAt = cloneTime(d.ApprovedAt)
	out.RejectedAt = cloneTime(d.RejectedAt)
	out.PostedAt = cloneTime(d.PostedAt)
	out.ScheduledFor = cloneTime(d.ScheduledFor)
	out.ExpiresAt = cloneTime(d.ExpiresAt)
	if d.Receipt != nil {
		r := *d.Receipt
		out.Receipt = &r
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Filter narrows list results. Zero values match everything.
type Filter struct {
	Status Status
	Target string
}

// Matches reports whether d passes the filter.
func (f Filter) Matches(d *Draft) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Target != "" && d.Target != f.Target {
		return false
	}
	return true
}
