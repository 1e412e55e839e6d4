package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink persists bundle objects under content-addressed keys. Put writes
// data at key unless the object already exists and reports whether it
// was already present.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (existed bool, err error)
}

// DirSink writes bundles into a local directory.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Put(_ context.Context, key string, data []byte) (bool, error) {
	path := filepath.Join(s.dir, key)
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}

	// Write to temp, then rename, so readers never see a partial bundle.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("commit bundle: %w", err)
	}
	return false, nil
}
