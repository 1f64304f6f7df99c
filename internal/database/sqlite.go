package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"fileflow/internal/database/migrations"
	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

// SQLiteDatabase implements fileflow.AtomicStore using SQLite.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *Queries
	path    string
}

var _ fileflow.AtomicStore = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens a SQLite database and migrates it to the latest
// schema. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, queries: NewQueries(db), path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db, queries: NewQueries(db)}
}

// OpenConnection opens and configures a SQLite connection pool.
// Foreign keys and immediate write transactions are set through the DSN so
// every pooled connection gets them. An in-memory database is limited to a
// single connection because each connection would otherwise see its own
// empty database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// CheckMigrations returns an error if the schema is not at the latest version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// User operations

func (s *SQLiteDatabase) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.queries.InsertUser(ctx, user); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, fileflow.ErrAlreadyExists)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *SQLiteDatabase) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *SQLiteDatabase) findUser(ctx context.Context, where string, arg any) (*model.User, error) {
	u, err := s.queries.GetUser(ctx, where, arg)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return u, nil
}

// File operations

func (s *SQLiteDatabase) InsertFile(ctx context.Context, file *model.File) error {
	return s.inTx(ctx, func(q *Queries) error {
		if err := q.InsertFile(ctx, file); err != nil {
			return fmt.Errorf("inserting file: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) FindFile(ctx context.Context, id string) (*model.File, error) {
	f, err := s.queries.GetFile(ctx, id)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func (s *SQLiteDatabase) UpdateFile(ctx context.Context, file *model.File) error {
	return s.inTx(ctx, func(q *Queries) error {
		ok, err := q.UpdateFile(ctx, file)
		if err != nil {
			return fmt.Errorf("updating file: %w", err)
		}
		if !ok {
			return fmt.Errorf("file %s: %w", file.ID, fileflow.ErrNotFound)
		}
		return nil
	})
}

func (s *SQLiteDatabase) ListVisibleFiles(ctx context.Context, userID string) ([]*model.File, error) {
	files, err := s.queries.ListVisibleFiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing visible files: %w", err)
	}
	return files, nil
}

func (s *SQLiteDatabase) DeleteFiles(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.queries.DeleteFiles(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting files: %w", err)
	}
	return n, nil
}

// Version operations

func (s *SQLiteDatabase) InsertVersion(ctx context.Context, version *model.Version) error {
	if err := s.queries.InsertVersion(ctx, version); err != nil {
		return versionInsertError(version, err)
	}
	return nil
}

func (s *SQLiteDatabase) ListVersions(ctx context.Context, fileID string) ([]*model.Version, error) {
	versions, err := s.queries.ListVersions(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

func (s *SQLiteDatabase) MaxVersionNumber(ctx context.Context, fileID string) (int, error) {
	n, err := s.queries.MaxVersionNumber(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("finding max version number: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) DeleteVersionsForFiles(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	if err := s.queries.DeleteVersionsForFiles(ctx, fileIDs); err != nil {
		return fmt.Errorf("deleting versions: %w", err)
	}
	return nil
}

// Transactional operations

// CreateFileWithVersion inserts a file and its first version in one transaction.
func (s *SQLiteDatabase) CreateFileWithVersion(ctx context.Context, file *model.File, version *model.Version) error {
	return s.inTx(ctx, func(q *Queries) error {
		if err := q.InsertFile(ctx, file); err != nil {
			return fmt.Errorf("inserting file: %w", err)
		}
		if err := q.InsertVersion(ctx, version); err != nil {
			return fmt.Errorf("inserting version: %w", err)
		}
		return nil
	})
}

// AppendVersion computes the next version number inside an immediate
// transaction, which holds SQLite's write lock until commit.
func (s *SQLiteDatabase) AppendVersion(ctx context.Context, fileID string, build fileflow.VersionBuilder) (*model.Version, error) {
	var created *model.Version
	err := s.inTx(ctx, func(q *Queries) error {
		file, err := q.GetFile(ctx, fileID)
		if err != nil {
			if notFound(err) {
				return fmt.Errorf("file %s: %w", fileID, fileflow.ErrNotFound)
			}
			return fmt.Errorf("loading file: %w", err)
		}

		latest, err := q.MaxVersionNumber(ctx, fileID)
		if err != nil {
			return fmt.Errorf("finding max version number: %w", err)
		}

		v, err := build(file, latest+1)
		if err != nil {
			return err
		}
		if err := q.InsertVersion(ctx, v); err != nil {
			return versionInsertError(v, err)
		}
		if _, err := q.UpdateFile(ctx, file); err != nil {
			return fmt.Errorf("updating file: %w", err)
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteFilesCascade removes files and their versions in one transaction.
func (s *SQLiteDatabase) DeleteFilesCascade(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := s.inTx(ctx, func(q *Queries) error {
		if err := q.DeleteVersionsForFiles(ctx, ids); err != nil {
			return fmt.Errorf("deleting versions: %w", err)
		}
		deleted, err := q.DeleteFiles(ctx, ids)
		if err != nil {
			return fmt.Errorf("deleting files: %w", err)
		}
		n = deleted
		return nil
	})
	return n, err
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// versionInsertError reports a taken version number as ErrAlreadyExists.
func versionInsertError(v *model.Version, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("version %d of file %s: %w", v.Number, v.FileID, fileflow.ErrAlreadyExists)
	}
	return fmt.Errorf("inserting version: %w", err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
