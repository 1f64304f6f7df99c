package collection

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

// Collection names.
const (
	Users    = "users"
	Files    = "files"
	Versions = "versions"
)

// userRecord is the stored form of a user. Unlike model.User it keeps the
// password hash when serialized.
type userRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	FullName     string    `json:"fullName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toUserRecord(u *model.User) userRecord {
	return userRecord{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FullName:     u.FullName,
		AvatarURL:    u.AvatarURL,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r userRecord) toModel() *model.User {
	return &model.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FullName:     r.FullName,
		AvatarURL:    r.AvatarURL,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Store implements fileflow.Store over whole-collection reads and writes.
// Each method runs under one mutex so read-modify-write cycles within this
// process do not interleave. Multi-collection writes are not atomic.
type Store struct {
	adapter *Adapter
	mu      sync.Mutex
}

var _ fileflow.Store = (*Store)(nil)

func NewStore(adapter *Adapter) *Store {
	return &Store{adapter: adapter}
}

// User operations

func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := LoadCollection[userRecord](s.adapter, Users)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.Email == user.Email {
			return fmt.Errorf("user %s: %w", user.Email, fileflow.ErrAlreadyExists)
		}
	}
	if user.ID == "" {
		user.ID = s.adapter.GenerateID()
	}
	return SaveCollection(s.adapter, Users, append(users, toUserRecord(user)))
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	return s.findUser(func(u userRecord) bool { return u.Email == email }), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*model.User, error) {
	return s.findUser(func(u userRecord) bool { return u.ID == id }), nil
}

func (s *Store) findUser(match func(userRecord) bool) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range GetCollection[userRecord](s.adapter, Users) {
		if match(u) {
			return u.toModel()
		}
	}
	return nil
}

// File operations

func (s *Store) InsertFile(_ context.Context, file *model.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := LoadCollection[*model.File](s.adapter, Files)
	if err != nil {
		return err
	}
	return SaveCollection(s.adapter, Files, append(files, file.Clone()))
}

func (s *Store) FindFile(_ context.Context, id string) (*model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range GetCollection[*model.File](s.adapter, Files) {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateFile(_ context.Context, file *model.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := LoadCollection[*model.File](s.adapter, Files)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(files, func(f *model.File) bool { return f.ID == file.ID })
	if i < 0 {
		return fmt.Errorf("file %s: %w", file.ID, fileflow.ErrNotFound)
	}
	files[i] = file.Clone()
	return SaveCollection(s.adapter, Files, files)
}

func (s *Store) ListVisibleFiles(_ context.Context, userID string) ([]*model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := []*model.File{}
	for _, f := range GetCollection[*model.File](s.adapter, Files) {
		if f.VisibleTo(userID) {
			visible = append(visible, f)
		}
	}
	return visible, nil
}

func (s *Store) DeleteFiles(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := LoadCollection[*model.File](s.adapter, Files)
	if err != nil {
		return 0, err
	}
	kept := slices.DeleteFunc(slices.Clone(files), func(f *model.File) bool {
		return slices.Contains(ids, f.ID)
	})
	removed := len(files) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := SaveCollection(s.adapter, Files, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// Version operations

func (s *Store) InsertVersion(_ context.Context, version *model.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := LoadCollection[*model.Version](s.adapter, Versions)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v.FileID == version.FileID && v.Number == version.Number {
			return fmt.Errorf("version %d of file %s: %w", v.Number, v.FileID, fileflow.ErrAlreadyExists)
		}
	}
	return SaveCollection(s.adapter, Versions, append(versions, version))
}

func (s *Store) ListVersions(_ context.Context, fileID string) ([]*model.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*model.Version{}
	for _, v := range GetCollection[*model.Version](s.adapter, Versions) {
		if v.FileID == fileID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) MaxVersionNumber(_ context.Context, fileID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := 0
	for _, v := range GetCollection[*model.Version](s.adapter, Versions) {
		if v.FileID == fileID && v.Number > latest {
			latest = v.Number
		}
	}
	return latest, nil
}

func (s *Store) DeleteVersionsForFiles(_ context.Context, fileIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := LoadCollection[*model.Version](s.adapter, Versions)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(versions), func(v *model.Version) bool {
		return slices.Contains(fileIDs, v.FileID)
	})
	if len(kept) == len(versions) {
		return nil
	}
	return SaveCollection(s.adapter, Versions, kept)
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.adapter.Close()
}
