package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// NewSink builds a sink from an archive destination:
//
//   - "s3://bucket/prefix" for S3; region comes from the AWS default
//     chain (or AWS_REGION), ARCHIVE_S3_ENDPOINT points at MinIO or
//     LocalStack
//   - "gs://bucket/prefix" for GCS (requires the gcp build tag)
//   - anything else is a local directory; empty means "archive"
func NewSink(ctx context.Context, dest string) (Sink, error) {
	switch {
	case strings.HasPrefix(dest, "s3://"):
		bucket, prefix, err := splitBucketURL(dest)
		if err != nil {
			return nil, err
		}
		return NewS3Sink(ctx, S3Config{
			Bucket:   bucket,
			Region:   os.Getenv("AWS_REGION"),
			Endpoint: os.Getenv("ARCHIVE_S3_ENDPOINT"),
			Prefix:   prefix,
		})
	case strings.HasPrefix(dest, "gs://"):
		bucket, prefix, err := splitBucketURL(dest)
		if err != nil {
			return nil, err
		}
		return newGCSSink(ctx, bucket, prefix)
	case dest == "":
		return NewDirSink("archive")
	default:
		return NewDirSink(dest)
	}
}

func splitBucketURL(dest string) (bucket, prefix string, err error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", "", fmt.Errorf("parse archive destination %q: %w", dest, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("archive destination %q has no bucket", dest)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
