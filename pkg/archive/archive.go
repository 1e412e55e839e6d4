// Package archive bundles finished drafts into content-addressed JSONL
// bundles and ships them to a sink (local directory, S3, or GCS). A
// bundle holds every terminal draft (posted, rejected, expired) with its
// receipt plus the audit events that touched those drafts. The bundle is
// addressed by the sha256 of its JCS-canonicalized manifest, so exporting
// the same state twice finds the object already present and skips.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/bosun/pkg/audit"
	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/store"
)

// terminalStatuses are the lifecycle ends a bundle collects.
var terminalStatuses = []draft.Status{
	draft.StatusPosted,
	draft.StatusRejected,
	draft.StatusExpired,
}

// Record is one JSONL line in a bundle.
type Record struct {
	Kind  string       `json:"kind"`
	Draft *draft.Draft `json:"draft,omitempty"`
	Event *audit.Event `json:"event,omitempty"`
}

const (
	RecordKindDraft = "draft"
	RecordKindEvent = "audit_event"
)

// Manifest describes a bundle. Every field derives from the bundled
// content and nothing else, so the same drafts and events always produce
// the same digest.
type Manifest struct {
	DraftCount  int            `json:"draft_count"`
	EventCount  int            `json:"event_count"`
	Statuses    map[string]int `json:"statuses"`
	DraftIDs    []string       `json:"draft_ids"`
	ContentHash string         `json:"content_hash"`
}

// Bundle is a built, not yet shipped, export.
type Bundle struct {
	Manifest  Manifest
	Canonical []byte // JCS form of the manifest, the digested bytes
	Digest    string // sha256 hex over Canonical
	Data      []byte // JSONL payload
}

// ExportResult reports what Export did.
type ExportResult struct {
	Digest  string `json:"digest"`
	Key     string `json:"key"`
	Skipped bool   `json:"skipped"`
	Drafts  int    `json:"drafts"`
	Events  int    `json:"events"`
}

type Exporter struct {
	drafts    store.DraftStore
	auditPath string
}

type ExporterOption func(*Exporter)

// WithAuditLog points the exporter at the audit trail to slice events
// from. Without it bundles carry drafts only.
func WithAuditLog(path string) ExporterOption {
	return func(e *Exporter) { e.auditPath = path }
}

func NewExporter(drafts store.DraftStore, opts ...ExporterOption) *Exporter {
	e := &Exporter{drafts: drafts}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildBundle collects terminal drafts and their audit slice into a
// deterministic bundle.
func (e *Exporter) BuildBundle(ctx context.Context) (*Bundle, error) {
	var drafts []*draft.Draft
	statuses := make(map[string]int)
	for _, status := range terminalStatuses {
		batch, err := e.drafts.List(ctx, draft.Filter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("list %s drafts: %w", status, err)
		}
		if len(batch) > 0 {
			statuses[string(status)] = len(batch)
		}
		drafts = append(drafts, batch...)
	}
	// Ids embed creation time, so this is chronological.
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].ID < drafts[j].ID })

	ids := make([]string, len(drafts))
	bundled := make(map[string]bool, len(drafts))
	for i, d := range drafts {
		ids[i] = d.ID
		bundled[d.ID] = true
	}

	events, err := e.auditSlice(bundled)
	if err != nil {
		return nil, err
	}

	var data []byte
	for _, d := range drafts {
		line, err := json.Marshal(Record{Kind: RecordKindDraft, Draft: d})
		if err != nil {
			return nil, fmt.Errorf("marshal draft %s: %w", d.ID, err)
		}
		data = append(data, line...)
		data = append(data, '\n')
	}
	for i := range events {
		line, err := json.Marshal(Record{Kind: RecordKindEvent, Event: &events[i]})
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", events[i].ID, err)
		}
		data = append(data, line...)
		data = append(data, '\n')
	}

	contentHash := sha256.Sum256(data)
	manifest := Manifest{
		DraftCount:  len(drafts),
		EventCount:  len(events),
		Statuses:    statuses,
		DraftIDs:    ids,
		ContentHash: hex.EncodeToString(contentHash[:]),
	}

	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	digest := sha256.Sum256(canonical)

	return &Bundle{
		Manifest:  manifest,
		Canonical: canonical,
		Digest:    hex.EncodeToString(digest[:]),
		Data:      data,
	}, nil
}

// auditSlice returns the audit events touching bundled drafts, in log
// order. A missing audit file means an empty slice, not an error.
func (e *Exporter) auditSlice(bundled map[string]bool) ([]audit.Event, error) {
	if e.auditPath == "" {
		return nil, nil
	}
	f, err := os.Open(e.auditPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	all, err := audit.ReadLog(f)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var events []audit.Event
	for _, ev := range all {
		if bundled[ev.DraftID] {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Export builds the bundle and ships it. The bundle object is checked
// first: if the sink already holds this digest, nothing is written.
func (e *Exporter) Export(ctx context.Context, sink Sink) (*ExportResult, error) {
	bundle, err := e.BuildBundle(ctx)
	if err != nil {
		return nil, err
	}

	key := bundle.Digest + ".jsonl"
	existed, err := sink.Put(ctx, key, bundle.Data)
	if err != nil {
		return nil, fmt.Errorf("put bundle: %w", err)
	}
	res := &ExportResult{
		Digest:  bundle.Digest,
		Key:     key,
		Skipped: existed,
		Drafts:  bundle.Manifest.DraftCount,
		Events:  bundle.Manifest.EventCount,
	}
	if existed {
		return res, nil
	}

	// The stored manifest is the exact digested bytes, so a verifier can
	// hash the object as-is.
	if _, err := sink.Put(ctx, bundle.Digest+".manifest.json", bundle.Canonical); err != nil {
		return nil, fmt.Errorf("put manifest: %w", err)
	}
	return res, nil
}
