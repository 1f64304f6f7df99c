package testutil

import (
	"fileflow/internal/blob"
)

// NewTestBlobStore creates an in-memory blob store for testing.
func NewTestBlobStore() *blob.MemoryStore {
	return blob.NewMemoryStore()
}
