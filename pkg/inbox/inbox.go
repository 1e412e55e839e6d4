// Package inbox applies reviewer decisions dropped as YAML files into a
// watched directory. It is the file-based approval channel: a decision
// document names a draft and says approve or reject, the watcher applies
// it through the engine and renames the file so it is never applied twice.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/engine"
)

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"

	appliedSuffix = ".applied"
	errorSuffix   = ".error"

	defaultRescan = 30 * time.Second
)

// Decision is one reviewer decision document.
type Decision struct {
	ID       string `yaml:"id"`
	Decision string `yaml:"decision"`
	Feedback string `yaml:"feedback,omitempty"`
	Actor    string `yaml:"actor,omitempty"`
}

type Watcher struct {
	dir    string
	engine *engine.Engine
	logger *slog.Logger
	rescan time.Duration

	mu sync.Mutex
	// strikes counts consecutive unreadable passes per file, so a
	// document caught mid-write gets a second chance before quarantine.
	strikes map[string]int
}

type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRescanInterval sets how often the directory is rescanned even
// without filesystem events.
func WithRescanInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.rescan = d
		}
	}
}

func New(dir string, eng *engine.Engine, opts ...Option) *Watcher {
	w := &Watcher{
		dir:     dir,
		engine:  eng,
		logger:  slog.Default(),
		rescan:  defaultRescan,
		strikes: make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ScanResult reports what one pass did, by file base name.
type ScanResult struct {
	Applied     []string `json:"applied,omitempty"`
	Quarantined []string `json:"quarantined,omitempty"`
	Deferred    []string `json:"deferred,omitempty"`
}

// Scan processes every decision document currently in the directory.
// Applied documents are renamed with ".applied", documents that can
// never apply with ".error"; transient trouble leaves the file for the
// next pass.
func (w *Watcher) Scan(ctx context.Context) (*ScanResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := listDecisionFiles(w.dir)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{}
	for _, path := range files {
		name := filepath.Base(path)
		switch w.process(ctx, path) {
		case fileApplied:
			delete(w.strikes, name)
			res.Applied = append(res.Applied, name)
		case fileQuarantined:
			delete(w.strikes, name)
			res.Quarantined = append(res.Quarantined, name)
		case fileDeferred:
			res.Deferred = append(res.Deferred, name)
		case fileGone:
		}
	}
	return res, nil
}

type fileOutcome int

const (
	fileApplied fileOutcome = iota
	fileQuarantined
	fileDeferred
	fileGone
)

func (w *Watcher) process(ctx context.Context, path string) fileOutcome {
	name := filepath.Base(path)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileGone
		}
		w.logger.Error("read decision file", "file", name, "error", err)
		return fileDeferred
	}

	var doc Decision
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		// Possibly still being written; quarantine on the second strike.
		if w.strikes[name]++; w.strikes[name] < 2 {
			w.logger.Debug("decision not yet parseable, holding", "file", name)
			return fileDeferred
		}
		w.quarantine(path, fmt.Errorf("parse: %w", err))
		return fileQuarantined
	}

	if verr := doc.validate(); verr != nil {
		w.quarantine(path, verr)
		return fileQuarantined
	}

	d, err := w.apply(ctx, doc)
	switch {
	case err == nil:
		w.retire(path, appliedSuffix)
		w.logger.Info("decision applied",
			"file", name,
			"draft_id", doc.ID,
			"decision", doc.Decision,
			"status", d.Status,
		)
		return fileApplied
	case draft.IsNotFound(err), draft.IsInvalidTransition(err), draft.IsValidation(err):
		// This decision can never apply: wrong id, terminal draft, or
		// a rejection without feedback.
		w.quarantine(path, err)
		return fileQuarantined
	default:
		w.logger.Error("decision apply failed, will retry",
			"file", name,
			"draft_id", doc.ID,
			"error", err,
		)
		return fileDeferred
	}
}

func (w *Watcher) apply(ctx context.Context, doc Decision) (*draft.Draft, error) {
	switch doc.Decision {
	case DecisionApprove:
		return w.engine.Approve(ctx, doc.ID, doc.Actor)
	case DecisionReject:
		return w.engine.Reject(ctx, doc.ID, doc.Feedback, doc.Actor)
	default:
		return nil, &draft.ValidationError{Field: "decision", Reason: fmt.Sprintf("unknown decision %q", doc.Decision)}
	}
}

func (d Decision) validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("decision document has no draft id")
	}
	if d.Decision != DecisionApprove && d.Decision != DecisionReject {
		return fmt.Errorf("unknown decision %q", d.Decision)
	}
	return nil
}

func (w *Watcher) quarantine(path string, reason error) {
	w.logger.Warn("decision quarantined",
		"file", filepath.Base(path),
		"reason", reason,
	)
	w.retire(path, errorSuffix)
}

func (w *Watcher) retire(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil && !os.IsNotExist(err) {
		w.logger.Error("rename decision file",
			"file", filepath.Base(path),
			"error", err,
		)
	}
}

func listDecisionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isDecisionFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isDecisionFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// Run watches the inbox until the context ends. Filesystem events and a
// periodic rescan both trigger passes; the rescan catches anything an
// event missed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ensure inbox dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()

	// Initial pass picks up documents that predate the watch.
	w.scanAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isDecisionFile(event.Name) && (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				kick()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("inbox watch error", "error", err)
		case <-trigger:
			w.scanAndLog(ctx)
		case <-ticker.C:
			kick()
		}
	}
}

func (w *Watcher) scanAndLog(ctx context.Context) {
	res, err := w.Scan(ctx)
	if err != nil {
		w.logger.Error("inbox scan failed", "error", err)
		return
	}
	if len(res.Applied) > 0 || len(res.Quarantined) > 0 {
		w.logger.Info("inbox scan",
			"applied", len(res.Applied),
			"quarantined", len(res.Quarantined),
			"deferred", len(res.Deferred),
		)
	}
}
