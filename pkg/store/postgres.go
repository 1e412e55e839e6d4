package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
)

// Postgres is the DraftStore for shared deployments. Timestamps are
// stored as TIMESTAMPTZ, so due comparisons run in SQL.
type Postgres struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgres wraps an open database handle and ensures the schema
// exists.
func NewPostgres(db *sql.DB, opts ...Option) (*Postgres, error) {
	o := buildOptions(opts)
	s := &Postgres{db: db, clock: o.clock}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate drafts schema: %w", err)
	}
	return s, nil
}

// OpenPostgres connects with the given DSN and returns a store bound to
// the connection pool.
func OpenPostgres(dsn string, opts ...Option) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	s, err := NewPostgres(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		id             TEXT PRIMARY KEY,
		target         TEXT NOT NULL,
		payload        TEXT NOT NULL,
		category       TEXT NOT NULL DEFAULT '',
		priority       TEXT NOT NULL DEFAULT 'normal',
		status         TEXT NOT NULL,
		flags          JSONB,
		attempts       INTEGER NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL,
		approved_at    TIMESTAMPTZ,
		rejected_at    TIMESTAMPTZ,
		posted_at      TIMESTAMPTZ,
		scheduled_for  TIMESTAMPTZ,
		expires_at     TIMESTAMPTZ,
		feedback       TEXT NOT NULL DEFAULT '',
		receipt        JSONB,
		failure_reason TEXT NOT NULL DEFAULT ''
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, p CreateParams) (*draft.Draft, error) {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.Target, d.Payload, d.Category, string(d.Priority), string(d.Status),
		flags, d.Attempts,
		d.CreatedAt.UTC(), pgTime(d.ApprovedAt), pgTime(d.RejectedAt),
		pgTime(d.PostedAt), pgTime(d.ScheduledFor), pgTime(d.ExpiresAt),
		d.Feedback, nullReceipt(d.Receipt), d.FailureReason,
	)
	if err != nil {
		return nil, fmt.Errorf("insert draft: %w", err)
	}
	return d.Clone(), nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*draft.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id)
	d, err := scanPostgresDraft(row)
	if err == sql.ErrNoRows {
		return nil, &draft.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query draft: %w", err)
	}
	return d, nil
}

func (s *Postgres) List(ctx context.Context, f draft.Filter) ([]*draft.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts`
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(f.Status))
	}
	if f.Target != "" {
		clauses = append(clauses, fmt.Sprintf("target = $%d", len(args)+1))
		args = append(args, f.Target)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*draft.Draft
	for rows.Next() {
		d, err := scanPostgresDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) Transition(ctx context.Context, id string, event draft.Event, extra TransitionExtra) (*draft.Draft, error) {
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
			SET status = $1, attempts = $2, approved_at = $3, rejected_at = $4,
			    posted_at = $5, scheduled_for = $6, feedback = $7, receipt = $8,
			    failure_reason = $9
			WHERE id = $10 AND status = $11`,
			string(next.Status), next.Attempts,
			pgTime(next.ApprovedAt), pgTime(next.RejectedAt), pgTime(next.PostedAt),
			pgTime(next.ScheduledFor), next.Feedback, nullReceipt(next.Receipt),
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
	}
	return nil, fmt.Errorf("draft %s: transition contention not resolved", id)
}

func (s *Postgres) Close() error { return s.db.Close() }

// DB exposes the underlying handle so a schedule register can share it.
func (s *Postgres) DB() *sql.DB { return s.db }

func scanPostgresDraft(row scanner) (*draft.Draft, error) {
	var (
		d                                draft.Draft
		priority, status                 string
		flags, receipt                   sql.NullString
		createdAt                        time.Time
		approvedAt, rejectedAt, postedAt sql.NullTime
		scheduledFor, expiresAt          sql.NullTime
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
	d.CreatedAt = createdAt
	d.ApprovedAt = fromNullTime(approvedAt)
	d.RejectedAt = fromNullTime(rejectedAt)
	d.PostedAt = fromNullTime(postedAt)
	d.ScheduledFor = fromNullTime(scheduledFor)
	d.ExpiresAt = fromNullTime(expiresAt)
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

func pgTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// PostgresSchedule persists schedule entries.
type PostgresSchedule struct {
	db *sql.DB
}

// NewPostgresSchedule wraps an open database handle and ensures the
// schedule schema exists.
func NewPostgresSchedule(db *sql.DB) (*PostgresSchedule, error) {
	s := &PostgresSchedule{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schedule schema: %w", err)
	}
	return s, nil
}

func (s *PostgresSchedule) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedule_entries (
		id       TEXT PRIMARY KEY,
		draft_id TEXT NOT NULL,
		due_at   TIMESTAMPTZ NOT NULL,
		status   TEXT NOT NULL DEFAULT 'scheduled'
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *PostgresSchedule) Add(ctx context.Context, draftID string, dueAt time.Time) (*ScheduleEntry, error) {
	e := &ScheduleEntry{
		ID:      newEntryID(),
		DraftID: draftID,
		DueAt:   dueAt,
		Status:  ScheduleStatusScheduled,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_entries (id, draft_id, due_at, status)
		VALUES ($1, $2, $3, $4)`,
		e.ID, e.DraftID, e.DueAt.UTC(), e.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule entry: %w", err)
	}
	return e, nil
}

func (s *PostgresSchedule) ListDue(ctx context.Context, now time.Time) ([]*ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, due_at, status FROM schedule_entries
		WHERE status = $1 AND due_at <= $2
		ORDER BY due_at`, ScheduleStatusScheduled, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var due []*ScheduleEntry
	for rows.Next() {
		var e ScheduleEntry
		if err := rows.Scan(&e.ID, &e.DraftID, &e.DueAt, &e.Status); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		due = append(due, &e)
	}
	return due, rows.Err()
}

func (s *PostgresSchedule) MarkFired(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_entries SET status = $1 WHERE id = $2`,
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

func (s *PostgresSchedule) Close() error { return nil }
