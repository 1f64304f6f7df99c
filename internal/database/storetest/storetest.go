// Package storetest holds behavior tests shared by every fileflow.Store
// implementation. Each backend's tests call Run with its own constructor.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

// Base is the timestamp every fixture starts from.
var Base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// ID returns a deterministic UUID-shaped id.
func ID(n int) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
}

// NewStoreFunc opens an empty store. Implementations register cleanup with t.
type NewStoreFunc func(t *testing.T) fileflow.Store

// Run exercises the Store contract and, when the store implements it, the
// AtomicStore contract.
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("files", func(t *testing.T) { testFiles(t, newStore(t)) })
	t.Run("visibility", func(t *testing.T) { testVisibility(t, newStore(t)) })
	t.Run("delete files", func(t *testing.T) { testDeleteFiles(t, newStore(t)) })
	t.Run("versions", func(t *testing.T) { testVersions(t, newStore(t)) })

	t.Run("atomic", func(t *testing.T) {
		s, ok := newStore(t).(fileflow.AtomicStore)
		if !ok {
			t.Skip("store is not an AtomicStore")
		}
		testAtomic(t, s)
	})
}

func user(n int, email string) *model.User {
	return &model.User{
		ID:           ID(n),
		Email:        email,
		PasswordHash: "$2a$12$hash",
		FullName:     "User " + email,
		CreatedAt:    Base,
		UpdatedAt:    Base,
	}
}

func file(n int, owner string, sharedWith ...string) *model.File {
	return &model.File{
		ID:         ID(n),
		Name:       fmt.Sprintf("file-%d.txt", n),
		Size:       int64(n * 10),
		Type:       "text/plain",
		Path:       "/" + ID(n),
		OwnerID:    owner,
		CreatedAt:  Base,
		UpdatedAt:  Base,
		Shared:     len(sharedWith) > 0,
		SharedWith: append([]string{}, sharedWith...),
		Tags:       []string{},
	}
}

func version(fileID string, number int, author string) *model.Version {
	return &model.Version{
		ID:          ID(1000 + number),
		FileID:      fileID,
		Number:      number,
		CreatedAt:   Base.Add(time.Duration(number) * time.Second),
		CreatedBy:   author,
		Changes:     fmt.Sprintf("change %d", number),
		StoragePath: fmt.Sprintf("/%s/%d", fileID, number),
	}
}

func mustCreateUser(t *testing.T, s fileflow.Store, u *model.User) {
	t.Helper()
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
}

func mustInsertFile(t *testing.T, s fileflow.Store, f *model.File) {
	t.Helper()
	if err := s.InsertFile(context.Background(), f); err != nil {
		t.Fatalf("InsertFile() error = %v", err)
	}
}

func testUsers(t *testing.T, s fileflow.Store) {
	ctx := context.Background()
	alice := user(1, "alice@example.com")
	mustCreateUser(t, s, alice)

	got, err := s.FindUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail() error = %v", err)
	}
	if got == nil || got.ID != alice.ID {
		t.Fatalf("FindUserByEmail() = %+v, want id %s", got, alice.ID)
	}
	if got.PasswordHash != alice.PasswordHash {
		t.Errorf("PasswordHash = %q, want %q", got.PasswordHash, alice.PasswordHash)
	}
	if !got.CreatedAt.Equal(Base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, Base)
	}

	byID, err := s.FindUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("FindUserByID() error = %v", err)
	}
	if byID == nil || byID.Email != alice.Email {
		t.Errorf("FindUserByID() = %+v, want email %s", byID, alice.Email)
	}

	err = s.CreateUser(ctx, user(2, "alice@example.com"))
	if !errors.Is(err, fileflow.ErrAlreadyExists) {
		t.Errorf("CreateUser() duplicate email error = %v, want ErrAlreadyExists", err)
	}

	missing, err := s.FindUserByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("FindUserByEmail() missing = %v, %v; want nil, nil", missing, err)
	}
	missing, err = s.FindUserByID(ctx, ID(99))
	if err != nil || missing != nil {
		t.Errorf("FindUserByID() missing = %v, %v; want nil, nil", missing, err)
	}
}

func testFiles(t *testing.T, s fileflow.Store) {
	ctx := context.Background()
	mustCreateUser(t, s, user(1, "owner@example.com"))
	mustCreateUser(t, s, user(2, "collab@example.com"))
	mustCreateUser(t, s, user(3, "other@example.com"))

	f := file(10, ID(1), ID(3), ID(2))
	f.Tags = []string{"work", "draft"}
	mustInsertFile(t, s, f)

	got, err := s.FindFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("FindFile() error = %v", err)
	}
	if got == nil {
		t.Fatal("FindFile() returned nil")
	}
	if got.Name != f.Name || got.Size != f.Size || got.OwnerID != f.OwnerID || !got.Shared {
		t.Errorf("FindFile() = %+v, want %+v", got, f)
	}
	if !slices.Equal(got.SharedWith, []string{ID(3), ID(2)}) {
		t.Errorf("SharedWith = %v, want order preserved", got.SharedWith)
	}
	if !slices.Equal(got.Tags, []string{"work", "draft"}) {
		t.Errorf("Tags = %v, want [work draft]", got.Tags)
	}

	got.Favorite = true
	got.Tags = []string{"final"}
	got.SharedWith = []string{}
	got.Shared = false
	got.UpdatedAt = Base.Add(time.Minute)
	if err := s.UpdateFile(ctx, got); err != nil {
		t.Fatalf("UpdateFile() error = %v", err)
	}

	updated, err := s.FindFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("FindFile() error = %v", err)
	}
	if !updated.Favorite || updated.Shared || len(updated.SharedWith) != 0 {
		t.Errorf("FindFile() after update = %+v", updated)
	}
	if !slices.Equal(updated.Tags, []string{"final"}) {
		t.Errorf("Tags = %v, want [final]", updated.Tags)
	}
	if !updated.UpdatedAt.Equal(Base.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", updated.UpdatedAt, Base.Add(time.Minute))
	}
	if !updated.CreatedAt.Equal(Base) {
		t.Errorf("CreatedAt = %v, want %v", updated.CreatedAt, Base)
	}

	err = s.UpdateFile(ctx, file(11, ID(1)))
	if !errors.Is(err, fileflow.ErrNotFound) {
		t.Errorf("UpdateFile() missing error = %v, want ErrNotFound", err)
	}

	missing, err := s.FindFile(ctx, ID(11))
	if err != nil || missing != nil {
		t.Errorf("FindFile() missing = %v, %v; want nil, nil", missing, err)
	}
}

func testVisibility(t *testing.T, s fileflow.Store) {
	ctx := context.Background()
	mustCreateUser(t, s, user(1, "a@example.com"))
	mustCreateUser(t, s, user(2, "b@example.com"))
	mustCreateUser(t, s, user(3, "c@example.com"))

	mustInsertFile(t, s, file(10, ID(1)))
	mustInsertFile(t, s, file(11, ID(1), ID(2)))
	mustInsertFile(t, s, file(12, ID(2)))

	tests := []struct {
		user string
		want []string
	}{
		{ID(1), []string{ID(10), ID(11)}},
		{ID(2), []string{ID(11), ID(12)}},
		{ID(3), []string{}},
	}
	for _, tt := range tests {
		files, err := s.ListVisibleFiles(ctx, tt.user)
		if err != nil {
			t.Fatalf("ListVisibleFiles(%s) error = %v", tt.user, err)
		}
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		slices.Sort(ids)
		if !slices.Equal(ids, tt.want) {
			t.Errorf("ListVisibleFiles(%s) = %v, want %v", tt.user, ids, tt.want)
		}
	}
}

func testDeleteFiles(t *testing.T, s fileflow.Store) {
	ctx := context.Background()
	mustCreateUser(t, s, user(1, "a@example.com"))
	mustInsertFile(t, s, file(10, ID(1)))
	mustInsertFile(t, s, file(11, ID(1)))
	mustInsertFile(t, s, file(12, ID(1)))

	n, err := s.DeleteFiles(ctx, []string{ID(10), ID(12), ID(99)})
	if err != nil {
		t.Fatalf("DeleteFiles() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteFiles() = %d, want 2", n)
	}

	if f, _ := s.FindFile(ctx, ID(10)); f != nil {
		t.Error("file 10 still present after delete")
	}
	if f, _ := s.FindFile(ctx, ID(11)); f == nil {
		t.Error("file 11 removed by unrelated delete")
	}

	n, err = s.DeleteFiles(ctx, []string{ID(10)})
	if err != nil || n != 0 {
		t.Errorf("DeleteFiles() repeat = %d, %v; want 0, nil", n, err)
	}
}

func testVersions(t *testing.T, s fileflow.Store) {
	ctx := context.Background()
	mustCreateUser(t, s, user(1, "a@example.com"))
	mustInsertFile(t, s, file(10, ID(1)))
	mustInsertFile(t, s, file(11, ID(1)))

	if n, err := s.MaxVersionNumber(ctx, ID(10)); err != nil || n != 0 {
		t.Errorf("MaxVersionNumber() empty = %d, %v; want 0, nil", n, err)
	}

	for i := 1; i <= 3; i++ {
		if err := s.InsertVersion(ctx, version(ID(10), i, ID(1))); err != nil {
			t.Fatalf("InsertVersion(%d) error = %v", i, err)
		}
	}
	other := version(ID(11), 1, ID(1))
	other.ID = ID(2001)
	if err := s.InsertVersion(ctx, other); err != nil {
		t.Fatalf("InsertVersion() other file error = %v", err)
	}

	dup := version(ID(10), 2, ID(1))
	dup.ID = ID(3002)
	if err := s.InsertVersion(ctx, dup); !errors.Is(err, fileflow.ErrAlreadyExists) {
		t.Errorf("InsertVersion() duplicate number error = %v, want ErrAlreadyExists", err)
	}

	versions, err := s.ListVersions(ctx, ID(10))
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	numbers := make([]int, 0, len(versions))
	for _, v := range versions {
		numbers = append(numbers, v.Number)
		if v.FileID != ID(10) {
			t.Errorf("ListVersions() returned version of %s", v.FileID)
		}
	}
	slices.Sort(numbers)
	if !slices.Equal(numbers, []int{1, 2, 3}) {
		t.Errorf("version numbers = %v, want [1 2 3]", numbers)
	}

	if n, err := s.MaxVersionNumber(ctx, ID(10)); err != nil || n != 3 {
		t.Errorf("MaxVersionNumber() = %d, %v; want 3, nil", n, err)
	}

	if err := s.DeleteVersionsForFiles(ctx, []string{ID(10)}); err != nil {
		t.Fatalf("DeleteVersionsForFiles() error = %v", err)
	}
	if versions, _ := s.ListVersions(ctx, ID(10)); len(versions) != 0 {
		t.Errorf("ListVersions() after delete = %d versions, want 0", len(versions))
	}
	if versions, _ := s.ListVersions(ctx, ID(11)); len(versions) != 1 {
		t.Errorf("ListVersions() other file = %d versions, want 1", len(versions))
	}
}

func testAtomic(t *testing.T, s fileflow.AtomicStore) {
	ctx := context.Background()
	mustCreateUser(t, s, user(1, "a@example.com"))

	f := file(10, ID(1))
	if err := s.CreateFileWithVersion(ctx, f, version(f.ID, 1, ID(1))); err != nil {
		t.Fatalf("CreateFileWithVersion() error = %v", err)
	}

	t.Run("append assigns next number and saves file", func(t *testing.T) {
		v, err := s.AppendVersion(ctx, f.ID, func(file *model.File, next int) (*model.Version, error) {
			file.Size = 999
			file.UpdatedAt = Base.Add(time.Hour)
			return version(file.ID, next, ID(1)), nil
		})
		if err != nil {
			t.Fatalf("AppendVersion() error = %v", err)
		}
		if v.Number != 2 {
			t.Errorf("Number = %d, want 2", v.Number)
		}
		got, _ := s.FindFile(ctx, f.ID)
		if got.Size != 999 || !got.UpdatedAt.Equal(Base.Add(time.Hour)) {
			t.Errorf("file after append = %+v, want size 999 and updated", got)
		}
	})

	t.Run("builder error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := s.AppendVersion(ctx, f.ID, func(file *model.File, next int) (*model.Version, error) {
			file.Size = 1
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("AppendVersion() error = %v, want boom", err)
		}
		if n, _ := s.MaxVersionNumber(ctx, f.ID); n != 2 {
			t.Errorf("MaxVersionNumber() = %d, want 2", n)
		}
		if got, _ := s.FindFile(ctx, f.ID); got.Size != 999 {
			t.Errorf("Size = %d, want unchanged 999", got.Size)
		}
	})

	t.Run("append to missing file", func(t *testing.T) {
		_, err := s.AppendVersion(ctx, ID(99), func(file *model.File, next int) (*model.Version, error) {
			return version(file.ID, next, ID(1)), nil
		})
		if !errors.Is(err, fileflow.ErrNotFound) {
			t.Errorf("AppendVersion() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate create fails whole", func(t *testing.T) {
		dup := file(10, ID(1))
		v := version(dup.ID, 1, ID(1))
		v.ID = ID(4001)
		if err := s.CreateFileWithVersion(ctx, dup, v); err == nil {
			t.Fatal("CreateFileWithVersion() duplicate expected error")
		}
		if n, _ := s.MaxVersionNumber(ctx, f.ID); n != 2 {
			t.Errorf("MaxVersionNumber() = %d, want 2", n)
		}
	})

	t.Run("cascade delete", func(t *testing.T) {
		n, err := s.DeleteFilesCascade(ctx, []string{f.ID, ID(99)})
		if err != nil {
			t.Fatalf("DeleteFilesCascade() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteFilesCascade() = %d, want 1", n)
		}
		if got, _ := s.FindFile(ctx, f.ID); got != nil {
			t.Error("file still present after cascade")
		}
		if versions, _ := s.ListVersions(ctx, f.ID); len(versions) != 0 {
			t.Errorf("ListVersions() = %d versions, want 0", len(versions))
		}
	})
}
