// Package storage holds rendered artifacts. A local directory store backs
// single-node runs; the S3 store archives clips when a bucket is configured.
// The retention sweeper reclaims disk from archived videos.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is the narrow artifact interface the pipeline writes through.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// Location returns where a stored key can be addressed from outside the
	// process (an absolute path or an s3:// URL).
	Location(key string) string
}
