//go:build gcp

package archive

import "context"

func newGCSSink(ctx context.Context, bucket, prefix string) (Sink, error) {
	return NewGCSSink(ctx, bucket, prefix)
}
