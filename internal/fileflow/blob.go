package fileflow

import (
	"context"
	"io"
)

// BlobStore moves version content to durable storage, keyed by the logical
// storage path recorded on each Version. All operations stream.
type BlobStore interface {
	// Put stores size bytes read from r at path, replacing any previous blob.
	Put(ctx context.Context, path string, r io.Reader, size int64) error

	// Get writes the blob stored at path to w. Returns ErrNotFound if absent.
	Get(ctx context.Context, path string, w io.Writer) error

	// Delete removes the blob at path. Deleting a missing blob is not an error.
	Delete(ctx context.Context, path string) error

	// ValidateSetup verifies that the store is accessible.
	ValidateSetup(ctx context.Context) error
}
