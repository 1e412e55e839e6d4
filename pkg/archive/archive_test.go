package archive_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bosun/pkg/archive"
	"github.com/Mindburn-Labs/bosun/pkg/audit"
	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     *store.Memory
	clock     *fakeClock
	auditPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	return &fixture{
		store:     store.NewMemory(store.WithClock(clock.Now)),
		clock:     clock,
		auditPath: filepath.Join(t.TempDir(), "audit.jsonl"),
	}
}

func (f *fixture) exporter() *archive.Exporter {
	return archive.NewExporter(f.store, archive.WithAuditLog(f.auditPath))
}

func (f *fixture) create(t *testing.T, payload string) *draft.Draft {
	t.Helper()
	d, err := f.store.Create(context.Background(), store.CreateParams{Target: "twitter", Payload: payload})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return d
}

func (f *fixture) post(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.Transition(ctx, id, draft.EventApprove, store.TransitionExtra{})
	require.NoError(t, err)
	_, err = f.store.Transition(ctx, id, draft.EventDispatchSuccess, store.TransitionExtra{
		Receipt: &draft.Receipt{ID: "sim_1", PostedAt: f.clock.Now(), Simulated: true, ContentHash: "abc"},
	})
	require.NoError(t, err)
}

func (f *fixture) reject(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.Transition(context.Background(), id, draft.EventReject, store.TransitionExtra{Feedback: "no"})
	require.NoError(t, err)
}

func (f *fixture) expire(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.Transition(context.Background(), id, draft.EventExpire, store.TransitionExtra{})
	require.NoError(t, err)
}

func (f *fixture) recordAudit(t *testing.T, draftID string, types ...audit.EventType) {
	t.Helper()
	logger, file, err := audit.OpenFileLogger(f.auditPath)
	require.NoError(t, err)
	defer file.Close()
	for _, typ := range types {
		require.NoError(t, logger.Record(context.Background(), typ, draftID, "ops", nil))
	}
}

func TestBuildBundleCollectsTerminalDrafts(t *testing.T) {
	f := newFixture(t)
	posted := f.create(t, "one")
	rejected := f.create(t, "two")
	expired := f.create(t, "three")
	pending := f.create(t, "four")
	f.post(t, posted.ID)
	f.reject(t, rejected.ID)
	f.expire(t, expired.ID)

	f.recordAudit(t, posted.ID, audit.EventDraftCreated, audit.EventDraftApproved, audit.EventDispatchSuccess)
	f.recordAudit(t, pending.ID, audit.EventDraftCreated)

	bundle, err := f.exporter().BuildBundle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, bundle.Manifest.DraftCount)
	assert.Equal(t, 3, bundle.Manifest.EventCount, "pending draft events stay out of the bundle")
	assert.Equal(t, map[string]int{"posted": 1, "rejected": 1, "expired": 1}, bundle.Manifest.Statuses)
	assert.Equal(t, []string{posted.ID, rejected.ID, expired.ID}, bundle.Manifest.DraftIDs, "chronological by id")
	assert.NotContains(t, bundle.Manifest.DraftIDs, pending.ID)

	sum := sha256.Sum256(bundle.Data)
	assert.Equal(t, hex.EncodeToString(sum[:]), bundle.Manifest.ContentHash)

	var drafts, events int
	scanner := bufio.NewScanner(bytes.NewReader(bundle.Data))
	for scanner.Scan() {
		var rec archive.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		switch rec.Kind {
		case archive.RecordKindDraft:
			drafts++
			require.NotNil(t, rec.Draft)
			if rec.Draft.ID == posted.ID {
				require.NotNil(t, rec.Draft.Receipt)
				assert.Equal(t, "sim_1", rec.Draft.Receipt.ID)
			}
		case archive.RecordKindEvent:
			events++
			require.NotNil(t, rec.Event)
			assert.Equal(t, posted.ID, rec.Event.DraftID)
		default:
			t.Fatalf("unknown record kind %q", rec.Kind)
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 3, drafts)
	assert.Equal(t, 3, events)
}

func TestBundleDigestIsDeterministic(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "one")
	f.post(t, d.ID)

	first, err := f.exporter().BuildBundle(context.Background())
	require.NoError(t, err)
	second, err := f.exporter().BuildBundle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, first.Data, second.Data)

	more := f.create(t, "two")
	f.reject(t, more.ID)
	third, err := f.exporter().BuildBundle(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Digest, third.Digest)
}

func TestExportToDirIsIdempotent(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "one")
	f.post(t, d.ID)

	dir := t.TempDir()
	sink, err := archive.NewDirSink(dir)
	require.NoError(t, err)

	res, err := f.exporter().Export(context.Background(), sink)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Drafts)

	bundlePath := filepath.Join(dir, res.Digest+".jsonl")
	manifestPath := filepath.Join(dir, res.Digest+".manifest.json")
	assert.FileExists(t, bundlePath)
	assert.FileExists(t, manifestPath)

	// The stored manifest hashes to the digest it is named by.
	raw, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	assert.Equal(t, res.Digest, hex.EncodeToString(sum[:]))
	var manifest archive.Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, []string{d.ID}, manifest.DraftIDs)

	again, err := f.exporter().Export(context.Background(), sink)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, res.Digest, again.Digest)
}

func TestExportEmptyStateStillBundles(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	sink, err := archive.NewDirSink(dir)
	require.NoError(t, err)

	res, err := f.exporter().Export(context.Background(), sink)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 0, res.Drafts)

	again, err := f.exporter().Export(context.Background(), sink)
	require.NoError(t, err)
	assert.True(t, again.Skipped, "empty state exports once")
}

func TestNewSinkDestinations(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	sink, err := archive.NewSink(ctx, filepath.Join(dir, "bundles"))
	require.NoError(t, err)
	assert.IsType(t, &archive.DirSink{}, sink)
	assert.DirExists(t, filepath.Join(dir, "bundles"))

	_, err = archive.NewSink(ctx, "gs://bucket/prefix")
	require.Error(t, err, "gcs needs the gcp build tag")
	assert.Contains(t, err.Error(), "gcp")

	_, err = archive.NewSink(ctx, "s3://")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}
