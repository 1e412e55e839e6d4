//go:build gcp

package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSSink ships bundles to a Google Cloud Storage bucket. Credentials
// come from Application Default Credentials.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs sink requires a bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSSink{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(prefix),
	}, nil
}

func (s *GCSSink) Put(ctx context.Context, key string, data []byte) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.prefix + key)

	if _, err := obj.Attrs(ctx); err == nil {
		return true, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return false, fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("gcs close %s: %w", key, err)
	}
	return false, nil
}
