package fileflow

import (
	"context"

	"fileflow/internal/model"
)

// Store persists users, files and versions. Finders return nil, nil when
// the record does not exist. Implementations that cannot write atomically
// across records implement only this interface; the repositories compensate.
type Store interface {
	// User operations

	// CreateUser inserts a user. Returns ErrAlreadyExists if the email is taken.
	CreateUser(ctx context.Context, user *model.User) error

	// FindUserByEmail looks up a user by lowercase email.
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)

	// FindUserByID looks up a user by id.
	FindUserByID(ctx context.Context, id string) (*model.User, error)

	// File operations

	InsertFile(ctx context.Context, file *model.File) error
	FindFile(ctx context.Context, id string) (*model.File, error)

	// UpdateFile overwrites the mutable fields of an existing file.
	// Returns ErrNotFound if the file does not exist.
	UpdateFile(ctx context.Context, file *model.File) error

	// ListVisibleFiles returns every file owned by userID or shared with it.
	ListVisibleFiles(ctx context.Context, userID string) ([]*model.File, error)

	// DeleteFiles removes files by id and returns how many existed.
	DeleteFiles(ctx context.Context, ids []string) (int, error)

	// Version operations

	InsertVersion(ctx context.Context, version *model.Version) error

	// ListVersions returns all versions of a file in any order.
	ListVersions(ctx context.Context, fileID string) ([]*model.Version, error)

	// MaxVersionNumber returns the highest version number of a file, or 0.
	MaxVersionNumber(ctx context.Context, fileID string) (int, error)

	DeleteVersionsForFiles(ctx context.Context, fileIDs []string) error

	// Close releases the underlying connection.
	Close() error
}

// AtomicStore is implemented by stores that can commit several records in
// one transaction. The repositories prefer it when present.
type AtomicStore interface {
	Store

	// CreateFileWithVersion inserts a file and its first version together.
	CreateFileWithVersion(ctx context.Context, file *model.File, version *model.Version) error

	// AppendVersion locks the file, calls build with the locked file and the
	// next version number, then inserts the returned version and saves the
	// file (build may change it). An error from build aborts the transaction.
	// Returns ErrNotFound if the file is missing.
	AppendVersion(ctx context.Context, fileID string, build VersionBuilder) (*model.Version, error)

	// DeleteFilesCascade removes files and all their versions together and
	// returns how many files existed.
	DeleteFilesCascade(ctx context.Context, ids []string) (int, error)
}

// VersionBuilder produces the version to append for a locked file.
type VersionBuilder func(file *model.File, next int) (*model.Version, error)
