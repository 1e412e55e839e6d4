package store

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
)

// Memory is an in-process DraftStore. Transitions are serialized by a
// single mutex, which makes the status CAS trivial.
type Memory struct {
	mu     sync.RWMutex
	drafts map[string]*draft.Draft
	order  []string
	clock  func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		drafts: make(map[string]*draft.Draft),
		clock:  o.clock,
	}
}

func (s *Memory) Create(_ context.Context, p CreateParams) (*draft.Draft, error) {
	if p.Payload == "" {
		return nil, &draft.ValidationError{Field: "payload", Reason: "must not be empty"}
	}
	if p.Target == "" {
		return nil, &draft.ValidationError{Field: "target", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	d := &draft.Draft{
		ID:        draft.NewID(now),
		Target:    p.Target,
		Payload:   p.Payload,
		Category:  p.Category,
		Priority:  defaultPriority(p.Priority),
		Status:    draft.StatusPendingApproval,
		Flags:     append([]string(nil), p.Flags...),
		CreatedAt: now,
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		d.ExpiresAt = &t
	}

	s.drafts[d.ID] = d
	s.order = append(s.order, d.ID)
	return d.Clone(), nil
}

func (s *Memory) Get(_ context.Context, id string) (*draft.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drafts[id]
	if !ok {
		return nil, &draft.NotFoundError{ID: id}
	}
	return d.Clone(), nil
}

func (s *Memory) List(_ context.Context, f draft.Filter) ([]*draft.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*draft.Draft, 0, len(s.order))
	for _, id := range s.order {
		d := s.drafts[id]
		if !f.Matches(d) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (s *Memory) Transition(_ context.Context, id string, event draft.Event, extra TransitionExtra) (*draft.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		return nil, &draft.NotFoundError{ID: id}
	}
	next, err := applyTransition(d, event, extra, s.clock())
	if err != nil {
		return nil, err
	}
	s.drafts[id] = next
	return next.Clone(), nil
}

func (s *Memory) Close() error { return nil }

// MemorySchedule is an in-process ScheduleRegister.
type MemorySchedule struct {
	mu      sync.RWMutex
	entries map[string]*ScheduleEntry
}

// NewMemorySchedule returns an empty in-memory register.
func NewMemorySchedule() *MemorySchedule {
	return &MemorySchedule{entries: make(map[string]*ScheduleEntry)}
}

func (s *MemorySchedule) Add(_ context.Context, draftID string, dueAt time.Time) (*ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &ScheduleEntry{
		ID:      newEntryID(),
		DraftID: draftID,
		DueAt:   dueAt,
		Status:  ScheduleStatusScheduled,
	}
	s.entries[e.ID] = e
	copied := *e
	return &copied, nil
}

func (s *MemorySchedule) ListDue(_ context.Context, now time.Time) ([]*ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*ScheduleEntry
	for _, e := range s.entries {
		if e.Status != ScheduleStatusScheduled || e.DueAt.After(now) {
			continue
		}
		copied := *e
		due = append(due, &copied)
	}
	sortEntries(due)
	return due, nil
}

func (s *MemorySchedule) MarkFired(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = ScheduleStatusFired
	return nil
}

func (s *MemorySchedule) Close() error { return nil }
