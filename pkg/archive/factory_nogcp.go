//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSSink(_ context.Context, _, _ string) (Sink, error) {
	return nil, fmt.Errorf("GCS archive is not enabled in this build (use -tags gcp)")
}
