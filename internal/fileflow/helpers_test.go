package fileflow_test

import (
	"context"
	"strings"
	"testing"

	"fileflow/internal/blob"
	"fileflow/internal/fileflow"
	"fileflow/internal/model"
	"fileflow/internal/testutil"
)

// env bundles repositories over one store with deterministic time and ids.
type env struct {
	store    fileflow.Store
	blobs    *blob.MemoryStore
	clock    *testutil.StubClock
	ids      *testutil.StubIDGenerator
	files    *fileflow.FileRepository
	versions *fileflow.VersionRepository
}

func newEnv(t *testing.T, store fileflow.Store) *env {
	t.Helper()
	e := &env{
		store: store,
		blobs: testutil.NewTestBlobStore(),
		clock: testutil.FixedClock(),
		ids:   testutil.NewStubIDGenerator(),
	}
	logger := fileflow.NewNopLogger()
	e.versions = fileflow.NewVersionRepository(store, e.blobs, testutil.NewTestEncryptor(), logger, e.clock, e.ids)
	e.files = fileflow.NewFileRepository(store, e.versions, logger, e.clock, e.ids)
	return e
}

// backends runs fn against a transactional and a non-transactional store.
func backends(t *testing.T, fn func(t *testing.T, e *env)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newEnv(t, testutil.NewTestStore(t))) })
	t.Run("collection", func(t *testing.T) { fn(t, newEnv(t, testutil.NewTestCollectionStore(t, nil))) })
}

func (e *env) user(t *testing.T, email string) *model.User {
	t.Helper()
	u := &model.User{
		ID:           e.ids.New(),
		Email:        email,
		PasswordHash: "hash",
		FullName:     email,
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func (e *env) upload(t *testing.T, req fileflow.UploadRequest) *model.File {
	t.Helper()
	f, err := e.files.Upload(context.Background(), req)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	return f
}

func (e *env) uploadText(t *testing.T, owner, name, content string) *model.File {
	t.Helper()
	return e.upload(t, fileflow.UploadRequest{
		OwnerID: owner, Name: name, Type: "text/plain",
		Content: strings.NewReader(content), Size: int64(len(content)),
	})
}
