// Package objstore adapts an S3-compatible endpoint to the operations the
// polling engine consumes: listing a bucket and fetching an object. No
// caching happens here — every call hits the backing store.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors
var (
	// ErrNotFound means the object does not exist (yet). Callers treat it as
	// "not yet available", not as a failure.
	ErrNotFound = errors.New("object not found")
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// Gateway is the surface the polling engine consumes.
type Gateway interface {
	// List returns every object in the bucket. Iteration order is unspecified.
	List(ctx context.Context, bucket string) ([]ObjectInfo, error)

	// Fetch returns the full object bytes, or ErrNotFound.
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)

	// Open returns a reader over the object plus its size, for artifacts too
	// large to hold in one buffer. Caller closes the reader.
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}
