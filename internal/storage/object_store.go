package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ObjectStore archives uploaded files. PutObject returns where the object
// ended up (a local path or an s3:// URI).
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) (string, error)
}

// ParseS3URI splits s3://bucket/key into its bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid s3 uri %q: must start with s3://", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("invalid s3 uri %q: expected s3://bucket/key", uri)
	}
	return bucket, key, nil
}
