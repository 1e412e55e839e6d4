package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
)

var pgNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var pgColumns = []string{
	"id", "target", "payload", "category", "priority", "status", "flags", "attempts",
	"created_at", "approved_at", "rejected_at", "posted_at", "scheduled_for", "expires_at",
	"feedback", "receipt", "failure_reason",
}

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS drafts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgres(db, WithClock(func() time.Time { return pgNow }))
	require.NoError(t, err)
	return store, mock
}

func TestPostgresCreate(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO drafts")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	d, err := store.Create(ctx, CreateParams{Target: "twitter", Payload: "hello"})
	assert.NoError(t, err)
	assert.True(t, draft.ValidID(d.ID))
	assert.Equal(t, draft.StatusPendingApproval, d.Status)
	assert.Equal(t, draft.PriorityNormal, d.Priority)
	assert.True(t, d.CreatedAt.Equal(pgNow))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()

	receiptJSON := `{"id":"r1","posted_at":"2025-06-01T12:00:05Z","simulated":true,"content_hash":"abc"}`
	rows := sqlmock.NewRows(pgColumns).AddRow(
		"draft_0000000000000000001_0001", "twitter", "hello", "social", "high", "posted",
		`["needs-review"]`, 1,
		pgNow, pgNow, nil, pgNow.Add(5*time.Second), nil, nil,
		"", receiptJSON, "",
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM drafts WHERE id = $1")).
		WithArgs("draft_0000000000000000001_0001").
		WillReturnRows(rows)

	d, err := store.Get(ctx, "draft_0000000000000000001_0001")
	require.NoError(t, err)
	assert.Equal(t, draft.StatusPosted, d.Status)
	assert.Equal(t, draft.PriorityHigh, d.Priority)
	assert.Equal(t, []string{"needs-review"}, d.Flags)
	assert.Equal(t, 1, d.Attempts)
	require.NotNil(t, d.Receipt)
	assert.Equal(t, "r1", d.Receipt.ID)
	assert.True(t, d.Receipt.Simulated)
	require.NotNil(t, d.PostedAt)
	assert.True(t, d.PostedAt.Equal(pgNow.Add(5*time.Second)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM drafts WHERE id = $1")).
		WithArgs("draft_missing").
		WillReturnRows(sqlmock.NewRows(pgColumns))

	_, err := store.Get(context.Background(), "draft_missing")
	assert.True(t, draft.IsNotFound(err), "err = %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func pendingRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows(pgColumns).AddRow(
		id, "twitter", "hello", "", "normal", "pending_approval",
		nil, 0,
		pgNow, nil, nil, nil, nil, nil,
		"", nil, "",
	)
}

func TestPostgresTransitionApprove(t *testing.T) {
	store, mock := newMockPostgres(t)
	id := "draft_0000000000000000001_0001"

	mock.ExpectQuery(regexp.QuoteMeta("FROM drafts WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(pendingRow(id))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE drafts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d, err := store.Transition(context.Background(), id, draft.EventApprove, TransitionExtra{})
	require.NoError(t, err)
	assert.Equal(t, draft.StatusApproved, d.Status)
	require.NotNil(t, d.ApprovedAt)
	assert.True(t, d.ApprovedAt.Equal(pgNow))

	assert.NoError(t, mock.ExpectationsWereMet())
}

// A lost status race re-reads the row; the winner's state then fails
// validation instead of being overwritten.
func TestPostgresTransitionLostRace(t *testing.T) {
	store, mock := newMockPostgres(t)
	id := "draft_0000000000000000001_0001"

	mock.ExpectQuery(regexp.QuoteMeta("FROM drafts WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(pendingRow(id))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE drafts")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	approvedRow := sqlmock.NewRows(pgColumns).AddRow(
		id, "twitter", "hello", "", "normal", "approved",
		nil, 0,
		pgNow, pgNow, nil, nil, nil, nil,
		"", nil, "",
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM drafts WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(approvedRow)

	_, err := store.Transition(context.Background(), id, draft.EventApprove, TransitionExtra{})
	assert.True(t, draft.IsInvalidTransition(err), "err = %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newMockSchedule(t *testing.T) (*PostgresSchedule, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schedule_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	reg, err := NewPostgresSchedule(db)
	require.NoError(t, err)
	return reg, mock
}

func TestPostgresScheduleAddAndListDue(t *testing.T) {
	reg, mock := newMockSchedule(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry, err := reg.Add(ctx, "draft_1", pgNow.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, ScheduleStatusScheduled, entry.Status)

	rows := sqlmock.NewRows([]string{"id", "draft_id", "due_at", "status"}).
		AddRow(entry.ID, "draft_1", pgNow.Add(-time.Minute), ScheduleStatusScheduled)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedule_entries")).
		WithArgs(ScheduleStatusScheduled, pgNow.UTC()).
		WillReturnRows(rows)

	due, err := reg.ListDue(ctx, pgNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "draft_1", due[0].DraftID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScheduleMarkFired(t *testing.T) {
	reg, mock := newMockSchedule(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedule_entries")).
		WithArgs(ScheduleStatusFired, "entry-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, reg.MarkFired(context.Background(), "entry-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedule_entries")).
		WithArgs(ScheduleStatusFired, "entry-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, reg.MarkFired(context.Background(), "entry-2"), ErrEntryNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
