package collection

import (
	"context"
	"errors"
	"testing"

	"fileflow/internal/database/storetest"
	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

func TestStore_MemoryBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) fileflow.Store {
		return NewStore(NewAdapter(NewMemoryBackend(), fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))
	})
}

func TestStore_FileBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) fileflow.Store {
		b, err := NewFileBackend(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileBackend() error = %v", err)
		}
		return NewStore(NewAdapter(b, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))
	})
}

func TestStore_BadgerBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) fileflow.Store {
		b, err := NewBadgerBackend(t.TempDir())
		if err != nil {
			t.Fatalf("NewBadgerBackend() error = %v", err)
		}
		s := NewStore(NewAdapter(b, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStore_FileBackendPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	s := NewStore(NewAdapter(b, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))
	u := &model.User{ID: storetest.ID(1), Email: "a@example.com", PasswordHash: "secret-hash", FullName: "A"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	b2, _ := NewFileBackend(dir)
	reopened := NewStore(NewAdapter(b2, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))
	got, err := reopened.FindUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindUserByID() error = %v", err)
	}
	if got == nil || got.PasswordHash != "secret-hash" {
		t.Errorf("FindUserByID() = %+v, want stored password hash", got)
	}
}

func TestStore_CorruptCollectionReadsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	backend.Save(Files, []byte("{not json"))
	s := NewStore(NewAdapter(backend, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))

	files, err := s.ListVisibleFiles(ctx, storetest.ID(1))
	if err != nil {
		t.Fatalf("ListVisibleFiles() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("ListVisibleFiles() = %d files, want 0", len(files))
	}
}

// failingBackend fails every Save to the named collection.
type failingBackend struct {
	*MemoryBackend
	failOn string
}

func (b *failingBackend) Save(name string, data []byte) error {
	if name == b.failOn {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Save(name, data)
}

func TestStore_WriteFailureIsStorageUnavailable(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), failOn: Users}
	s := NewStore(NewAdapter(backend, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))

	err := s.CreateUser(context.Background(), &model.User{ID: storetest.ID(1), Email: "a@example.com"})
	if !errors.Is(err, fileflow.ErrStorageUnavailable) {
		t.Errorf("CreateUser() error = %v, want ErrStorageUnavailable", err)
	}
}

// flakyBackend fails the next Load of one collection.
type flakyBackend struct {
	*MemoryBackend
	failNext string
}

func (b *flakyBackend) Load(name string) ([]byte, error) {
	if name == b.failNext {
		b.failNext = ""
		return nil, errors.New("read timeout")
	}
	return b.MemoryBackend.Load(name)
}

func TestStore_FailedReadNeverOverwrites(t *testing.T) {
	owner := storetest.ID(1)
	fileID := func(n int) string { return storetest.ID(100 + n) }

	tests := []struct {
		name       string
		collection string
		mutate     func(ctx context.Context, s *Store) error
	}{
		{"CreateUser", Users, func(ctx context.Context, s *Store) error {
			return s.CreateUser(ctx, &model.User{ID: storetest.ID(2), Email: "b@example.com"})
		}},
		{"InsertFile", Files, func(ctx context.Context, s *Store) error {
			return s.InsertFile(ctx, &model.File{ID: fileID(4), Name: "d.txt", OwnerID: owner})
		}},
		{"UpdateFile", Files, func(ctx context.Context, s *Store) error {
			return s.UpdateFile(ctx, &model.File{ID: fileID(1), Name: "renamed.txt", OwnerID: owner})
		}},
		{"DeleteFiles", Files, func(ctx context.Context, s *Store) error {
			_, err := s.DeleteFiles(ctx, []string{fileID(1)})
			return err
		}},
		{"InsertVersion", Versions, func(ctx context.Context, s *Store) error {
			return s.InsertVersion(ctx, &model.Version{ID: storetest.ID(204), FileID: fileID(1), Number: 2})
		}},
		{"DeleteVersionsForFiles", Versions, func(ctx context.Context, s *Store) error {
			return s.DeleteVersionsForFiles(ctx, []string{fileID(1)})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
			s := NewStore(NewAdapter(backend, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))

			if err := s.CreateUser(ctx, &model.User{ID: owner, Email: "a@example.com"}); err != nil {
				t.Fatalf("CreateUser() error = %v", err)
			}
			for i := 1; i <= 3; i++ {
				if err := s.InsertFile(ctx, &model.File{ID: fileID(i), Name: "f.txt", OwnerID: owner}); err != nil {
					t.Fatalf("InsertFile() error = %v", err)
				}
				v := &model.Version{ID: storetest.ID(200 + i), FileID: fileID(i), Number: 1}
				if err := s.InsertVersion(ctx, v); err != nil {
					t.Fatalf("InsertVersion() error = %v", err)
				}
			}

			backend.failNext = tt.collection
			if err := tt.mutate(ctx, s); !errors.Is(err, fileflow.ErrStorageUnavailable) {
				t.Fatalf("%s() error = %v, want ErrStorageUnavailable", tt.name, err)
			}

			if u, _ := s.FindUserByID(ctx, owner); u == nil {
				t.Error("existing user lost after failed write")
			}
			files, _ := s.ListVisibleFiles(ctx, owner)
			if len(files) != 3 {
				t.Errorf("ListVisibleFiles() = %d files, want 3", len(files))
			}
			for i := 1; i <= 3; i++ {
				versions, _ := s.ListVersions(ctx, fileID(i))
				if len(versions) != 1 {
					t.Errorf("ListVersions(%d) = %d versions, want 1", i, len(versions))
				}
			}
		})
	}
}

func TestStore_CorruptCollectionRejectsWrites(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	backend.Save(Files, []byte("{not json"))
	s := NewStore(NewAdapter(backend, fileflow.NewNopLogger(), fileflow.UUIDGenerator{}))

	err := s.InsertFile(ctx, &model.File{ID: storetest.ID(1), Name: "a.txt", OwnerID: storetest.ID(2)})
	if !errors.Is(err, fileflow.ErrStorageUnavailable) {
		t.Fatalf("InsertFile() error = %v, want ErrStorageUnavailable", err)
	}
	data, _ := backend.Load(Files)
	if string(data) != "{not json" {
		t.Errorf("corrupt collection overwritten with %q", data)
	}
}
