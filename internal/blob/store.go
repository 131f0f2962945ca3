// Package blob provides the small object-store surface calendupe needs:
// plain reads and writes of named blobs, plus a conditional create that
// serves as the mutual-exclusion primitive for the sync lock.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested blob does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrPreconditionFailed is returned by Create when the blob already exists.
var ErrPreconditionFailed = errors.New("blob already exists")

// Store is the minimal blob-store contract shared by the Google Cloud
// Storage client and the in-memory store used in tests.
type Store interface {
	// Put writes data under bucket/name, overwriting any existing blob.
	Put(ctx context.Context, bucket, name string, data []byte) error

	// Create writes data under bucket/name only if no blob exists there.
	// It fails with ErrPreconditionFailed when one does, without
	// modifying the existing blob.
	Create(ctx context.Context, bucket, name string, data []byte) error

	// Get returns the blob's contents, or ErrNotFound.
	Get(ctx context.Context, bucket, name string) ([]byte, error)

	// Delete removes the blob, or returns ErrNotFound.
	Delete(ctx context.Context, bucket, name string) error
}
