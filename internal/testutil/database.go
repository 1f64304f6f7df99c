package testutil

import (
	"testing"

	"fileflow/internal/database"
	"fileflow/internal/database/collection"
	"fileflow/internal/fileflow"
)

// NewTestStore creates a migrated in-memory SQLite store.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// NewTestCollectionStore creates a non-transactional store over the given
// collection backend, or an in-memory one when backend is nil.
func NewTestCollectionStore(t *testing.T, backend collection.Backend) *collection.Store {
	t.Helper()

	if backend == nil {
		backend = collection.NewMemoryBackend()
	}
	s := collection.NewStore(collection.NewAdapter(backend, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
