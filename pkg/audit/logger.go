// Package audit records the append-only trail of draft lifecycle events.
// Events are written as JSON Lines so the trail can be tailed, grepped,
// and sliced into archive bundles without a database.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventDraftCreated    EventType = "draft_created"
	EventDraftApproved   EventType = "draft_approved"
	EventDraftRejected   EventType = "draft_rejected"
	EventDraftScheduled  EventType = "draft_scheduled"
	EventDraftExpired    EventType = "draft_expired"
	EventDispatchAttempt EventType = "dispatch_attempt"
	EventDispatchSuccess EventType = "dispatch_success"
	EventDispatchFailure EventType = "dispatch_failure"
	EventRetryExhausted  EventType = "retry_exhausted"
	EventScheduleFired   EventType = "schedule_fired"
)

// Event is one structured audit record. Metadata carries event-specific
// detail (attempt counts, failure reasons, receipt ids).
type Event struct {
	ID        string         `json:"id"`
	DraftID   string         `json:"draft_id"`
	Type      EventType      `json:"type"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, draftID, actor string, metadata map[string]any) error
}

// logger implements Logger, writing one JSON object per line to a
// configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// Option configures a logger.
type Option func(*logger)

// WithClock injects the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *logger) { l.clock = clock }
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger(opts ...Option) Logger {
	return NewLoggerWithWriter(os.Stdout, opts...)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer, opts ...Option) Logger {
	if w == nil {
		w = os.Stdout
	}
	l := &logger{writer: w, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenFileLogger appends to the JSONL file at path, creating it if
// needed. The caller owns closing the returned file.
func OpenFileLogger(path string, opts ...Option) (Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	return NewLoggerWithWriter(f, opts...), f, nil
}

// Nop returns a Logger that discards every event.
func Nop() Logger {
	return NewLoggerWithWriter(io.Discard)
}

func (l *logger) Record(ctx context.Context, eventType EventType, draftID, actor string, metadata map[string]any) error {
	if actor == "" {
		actor = "system"
	}
	event := Event{
		ID:        uuid.New().String(),
		DraftID:   draftID,
		Type:      eventType,
		Actor:     actor,
		Timestamp: l.clock().UTC(),
		Metadata:  metadata,
	}
	// Correlate with the surrounding trace when one is active.
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.writer.Write(append(bytes, '\n'))
	return err
}

// ReadLog parses a JSONL audit stream back into events. Blank lines are
// skipped; a malformed line fails the whole read rather than being
// silently dropped.
func ReadLog(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return events, nil
}

// FilterByDraft returns the events belonging to one draft, preserving
// log order.
func FilterByDraft(events []Event, draftID string) []Event {
	var out []Event
	for _, e := range events {
		if e.DraftID == draftID {
			out = append(out, e)
		}
	}
	return out
}
