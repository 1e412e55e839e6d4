package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
)

// SQLite is the durable default DraftStore. Atomicity of transitions
// comes from a conditional UPDATE on the previous status: if another
// writer got there first, zero rows change and the transition is
// re-validated against the winner's state.
type SQLite struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLite wraps an open database handle and ensures the schema exists.
func NewSQLite(db *sql.DB, opts ...Option) (*SQLite, error) {
	o := buildOptions(opts)
	s := &SQLite{db: db, clock: o.clock}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate drafts schema: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (or creates) the database file at path and returns a
// store bound to it.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY
	// during concurrent transitions.
	db.SetMaxOpenConns(1)
	s, err := NewSQLite(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		id             TEXT PRIMARY KEY,
		target         TEXT NOT NULL,
		payload        TEXT NOT NULL,
		category       TEXT NOT NULL DEFAULT '',
		priority       TEXT NOT NULL DEFAULT 'normal',
		status         TEXT NOT NULL,
		flags          TEXT,
		attempts       INTEGER NOT NULL DEFAULT 0,
		created_at     DATETIME NOT NULL,
		approved_at    DATETIME,
		rejected_at    DATETIME,
		posted_at      DATETIME,
		scheduled_for  DATETIME,
		expires_at     DATETIME,
		feedback       TEXT NOT NULL DEFAULT '',
		receipt        TEXT,
		failure_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);
	CREATE INDEX IF NOT EXISTS idx_drafts_target ON drafts(target);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

const draftColumns = `id, target, payload, category, priority, status, flags, attempts,
	created_at, approved_at, rejected_at, posted_at, scheduled_for, expires_at,
	feedback, receipt, failure_reason`

func (s *SQLite) Create(ctx context.Context, p CreateParams) (*draft.Draft, error) {
	if p.Payload == "" {
		return nil, &draft.ValidationError{Field: "payload", Reason: "must not be empty"}
	}
	if p.Target == "" {
		return nil, &draft.ValidationError{Field: "target", Reason: "must not be empty"}
	}

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

	flags, err := marshalFlags(d.Flags)
	if err != nil {
		return nil, fmt.Errorf("marshal flags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (`+draftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Target, d.Payload, d.Category, string(d.Priority), string(d.Status),
		flags, d.Attempts,
		formatTime(d.CreatedAt), nullTime(d.ApprovedAt), nullTime(d.RejectedAt),
		nullTime(d.PostedAt), nullTime(d.ScheduledFor), nullTime(d.ExpiresAt),
		d.Feedback, nullReceipt(d.Receipt), d.FailureReason,
	)
	if err != nil {
		return nil, fmt.Errorf("insert draft: %w", err)
	}
	return d.Clone(), nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*draft.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	d, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return nil, &draft.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query draft: %w", err)
	}
	return d, nil
}

func (s *SQLite) List(ctx context.Context, f draft.Filter) ([]*draft.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts`
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Target != "" {
		clauses = append(clauses, "target = ?")
		args = append(args, f.Target)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	// Draft ids embed a zero-padded creation timestamp, so id order is
	// insertion order.
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*draft.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) Transition(ctx context.Context, id string, event draft.Event, extra TransitionExtra) (*draft.Draft, error) {
	for i := 0; i < 3; i++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := applyTransition(cur, event, extra, s.clock())
		if err != nil {
			return nil, err
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE drafts
			SET status = ?, attempts = ?, approved_at = ?, rejected_at = ?,
			    posted_at = ?, scheduled_for = ?, feedback = ?, receipt = ?,
			    failure_reason = ?
			WHERE id = ? AND status = ?`,
			string(next.Status), next.Attempts,
			nullTime(next.ApprovedAt), nullTime(next.RejectedAt), nullTime(next.PostedAt),
			nullTime(next.ScheduledFor), next.Feedback, nullReceipt(next.Receipt),
			next.FailureReason,
			id, string(cur.Status),
		)
		if err != nil {
			return nil, fmt.Errorf("update draft: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if n == 1 {
			return next, nil
		}
		// Lost the race. Re-read and re-validate against the winner's
		// state; usually that yields an invalid-transition error.
	}
	return nil, fmt.Errorf("draft %s: transition contention not resolved", id)
}

func (s *SQLite) Close() error { return s.db.Close() }

// DB exposes the underlying handle so a schedule register can share it.
func (s *SQLite) DB() *sql.DB { return s.db }

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (*draft.Draft, error) {
	var (
		d                                  draft.Draft
		priority, status                   string
		flags, receipt                     sql.NullString
		createdAt                          string
		approvedAt, rejectedAt, postedAt   sql.NullString
		scheduledFor, expiresAt            sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.Target, &d.Payload, &d.Category, &priority, &status, &flags, &d.Attempts,
		&createdAt, &approvedAt, &rejectedAt, &postedAt, &scheduledFor, &expiresAt,
		&d.Feedback, &receipt, &d.FailureReason,
	)
	if err != nil {
		return nil, err
	}
	d.Priority = draft.Priority(priority)
	d.Status = draft.Status(status)
	d.CreatedAt = parseTime(createdAt)
	d.ApprovedAt = parseNullTime(approvedAt)
	d.RejectedAt = parseNullTime(rejectedAt)
	d.PostedAt = parseNullTime(postedAt)
	d.ScheduledFor = parseNullTime(scheduledFor)
	d.ExpiresAt = parseNullTime(expiresAt)
	if flags.Valid && flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &d.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal flags: %w", err)
		}
	}
	if receipt.Valid && receipt.String != "" {
		var r draft.Receipt
		if err := json.Unmarshal([]byte(receipt.String), &r); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		d.Receipt = &r
	}
	return &d, nil
}

func marshalFlags(flags []string) (any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullReceipt(r *draft.Receipt) any {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return string(b)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

// SQLiteSchedule persists schedule entries alongside the drafts table.
type SQLiteSchedule struct {
	db *sql.DB
}

// NewSQLiteSchedule wraps an open database handle and ensures the
// schedule schema exists.
func NewSQLiteSchedule(db *sql.DB) (*SQLiteSchedule, error) {
	s := &SQLiteSchedule{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schedule schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSchedule) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedule_entries (
		id       TEXT PRIMARY KEY,
		draft_id TEXT NOT NULL,
		due_at   DATETIME NOT NULL,
		status   TEXT NOT NULL DEFAULT 'scheduled'
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_status ON schedule_entries(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteSchedule) Add(ctx context.Context, draftID string, dueAt time.Time) (*ScheduleEntry, error) {
	e := &ScheduleEntry{
		ID:      newEntryID(),
		DraftID: draftID,
		DueAt:   dueAt,
		Status:  ScheduleStatusScheduled,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_entries (id, draft_id, due_at, status)
		VALUES (?, ?, ?, ?)`,
		e.ID, e.DraftID, formatTime(e.DueAt), e.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteSchedule) ListDue(ctx context.Context, now time.Time) ([]*ScheduleEntry, error) {
	// Due comparison happens here rather than in SQL: RFC3339Nano text
	// trims trailing fractional zeros, which breaks lexicographic order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, due_at, status FROM schedule_entries
		WHERE status = ?`, ScheduleStatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var due []*ScheduleEntry
	for rows.Next() {
		var (
			e     ScheduleEntry
			dueAt string
		)
		if err := rows.Scan(&e.ID, &e.DraftID, &dueAt, &e.Status); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		e.DueAt = parseTime(dueAt)
		if e.DueAt.After(now) {
			continue
		}
		due = append(due, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortEntries(due)
	return due, nil
}

func (s *SQLiteSchedule) MarkFired(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_entries SET status = ? WHERE id = ?`,
		ScheduleStatusFired, entryID)
	if err != nil {
		return fmt.Errorf("mark schedule entry fired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *SQLiteSchedule) Close() error { return nil }
