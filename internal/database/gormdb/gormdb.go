// Package gormdb implements the managed-Postgres backend with GORM. The same
// code runs against SQLite through gorm.io/driver/sqlite in tests.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

type userRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"size:320;uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	FullName     string `gorm:"not null"`
	AvatarURL    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type fileRow struct {
	ID         string   `gorm:"primaryKey;size:36"`
	Name       string   `gorm:"not null"`
	Size       int64    `gorm:"not null"`
	Type       string   `gorm:"not null"`
	Path       string   `gorm:"not null"`
	OwnerID    string   `gorm:"size:36;index;not null"`
	Shared     bool     `gorm:"not null"`
	SharedWith []string `gorm:"serializer:json;type:text"`
	Favorite   bool     `gorm:"not null"`
	Tags       []string `gorm:"serializer:json;type:text"`
	Encrypted  bool     `gorm:"column:is_encrypted;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (fileRow) TableName() string { return "files" }

type versionRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	FileID      string `gorm:"size:36;not null;uniqueIndex:file_versions_file_number"`
	Number      int    `gorm:"column:version;not null;uniqueIndex:file_versions_file_number"`
	CreatedAt   time.Time
	CreatedBy   string `gorm:"size:36;not null"`
	Changes     string
	StoragePath string `gorm:"not null"`
	Size        int64
	Checksum    string
}

func (versionRow) TableName() string { return "file_versions" }

func toUserRow(u *model.User) *userRow {
	return &userRow{
		ID: u.ID, Email: u.Email, PasswordHash: u.PasswordHash, FullName: u.FullName,
		AvatarURL: u.AvatarURL, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (r *userRow) toModel() *model.User {
	return &model.User{
		ID: r.ID, Email: r.Email, PasswordHash: r.PasswordHash, FullName: r.FullName,
		AvatarURL: r.AvatarURL, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func toFileRow(f *model.File) *fileRow {
	return &fileRow{
		ID: f.ID, Name: f.Name, Size: f.Size, Type: f.Type, Path: f.Path, OwnerID: f.OwnerID,
		Shared: f.Shared, SharedWith: append([]string{}, f.SharedWith...), Favorite: f.Favorite,
		Tags: append([]string{}, f.Tags...), Encrypted: f.Encrypted,
		CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt,
	}
}

func (r *fileRow) toModel() *model.File {
	f := &model.File{
		ID: r.ID, Name: r.Name, Size: r.Size, Type: r.Type, Path: r.Path, OwnerID: r.OwnerID,
		Shared: r.Shared, SharedWith: r.SharedWith, Favorite: r.Favorite, Tags: r.Tags,
		Encrypted: r.Encrypted, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
	if f.SharedWith == nil {
		f.SharedWith = []string{}
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return f
}

func toVersionRow(v *model.Version) *versionRow {
	return &versionRow{
		ID: v.ID, FileID: v.FileID, Number: v.Number, CreatedAt: v.CreatedAt, CreatedBy: v.CreatedBy,
		Changes: v.Changes, StoragePath: v.StoragePath, Size: v.Size, Checksum: v.Checksum,
	}
}

func (r *versionRow) toModel() *model.Version {
	return &model.Version{
		ID: r.ID, FileID: r.FileID, Number: r.Number, CreatedAt: r.CreatedAt.UTC(), CreatedBy: r.CreatedBy,
		Changes: r.Changes, StoragePath: r.StoragePath, Size: r.Size, Checksum: r.Checksum,
	}
}

// GormStore implements fileflow.AtomicStore with GORM.
type GormStore struct {
	db *gorm.DB
}

var _ fileflow.AtomicStore = (*GormStore)(nil)

// NewPostgresStore connects to Postgres and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*GormStore, error) {
	return Open(ctx, postgres.Open(dsn))
}

// Open wraps any GORM dialector and migrates the schema.
func Open(ctx context.Context, dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &GormStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables, columns and indexes.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&userRow{}, &fileRow{}, &versionRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// User operations

func (s *GormStore) CreateUser(ctx context.Context, user *model.User) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userRow{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return gorm.ErrDuplicatedKey
		}
		return tx.Create(toUserRow(user)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("user %s: %w", user.Email, fileflow.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *GormStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *GormStore) findUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).First(&row, where, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return row.toModel(), nil
}

// File operations

func (s *GormStore) InsertFile(ctx context.Context, file *model.File) error {
	if err := s.db.WithContext(ctx).Create(toFileRow(file)).Error; err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

func (s *GormStore) FindFile(ctx context.Context, id string) (*model.File, error) {
	return findFile(s.db.WithContext(ctx), id)
}

func findFile(db *gorm.DB, id string) (*model.File, error) {
	var row fileRow
	err := db.First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return row.toModel(), nil
}

func (s *GormStore) UpdateFile(ctx context.Context, file *model.File) error {
	return updateFile(s.db.WithContext(ctx), file)
}

func updateFile(db *gorm.DB, file *model.File) error {
	row := toFileRow(file)
	res := db.Model(&fileRow{}).Where("id = ?", file.ID).Select("*").Omit("id", "created_at").Updates(row)
	if res.Error != nil {
		return fmt.Errorf("updating file: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("file %s: %w", file.ID, fileflow.ErrNotFound)
	}
	return nil
}

// ListVisibleFiles matches collaborators against the JSON-encoded
// shared_with column. Ids are UUIDs, so the quoted pattern cannot match a
// partial id.
func (s *GormStore) ListVisibleFiles(ctx context.Context, userID string) ([]*model.File, error) {
	var rows []fileRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ? OR shared_with LIKE ?", userID, `%"`+userID+`"%`).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing visible files: %w", err)
	}
	files := make([]*model.File, len(rows))
	for i := range rows {
		files[i] = rows[i].toModel()
	}
	return files, nil
}

func (s *GormStore) DeleteFiles(ctx context.Context, ids []string) (int, error) {
	return deleteFiles(s.db.WithContext(ctx), ids)
}

func deleteFiles(db *gorm.DB, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Where("id IN ?", ids).Delete(&fileRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting files: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Version operations

func (s *GormStore) InsertVersion(ctx context.Context, version *model.Version) error {
	if err := s.db.WithContext(ctx).Create(toVersionRow(version)).Error; err != nil {
		return versionInsertError(version, err)
	}
	return nil
}

func (s *GormStore) ListVersions(ctx context.Context, fileID string) ([]*model.Version, error) {
	var rows []versionRow
	err := s.db.WithContext(ctx).Where("file_id = ?", fileID).Order("version DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	versions := make([]*model.Version, len(rows))
	for i := range rows {
		versions[i] = rows[i].toModel()
	}
	return versions, nil
}

func (s *GormStore) MaxVersionNumber(ctx context.Context, fileID string) (int, error) {
	return maxVersionNumber(s.db.WithContext(ctx), fileID)
}

func maxVersionNumber(db *gorm.DB, fileID string) (int, error) {
	var n int
	err := db.Model(&versionRow{}).Where("file_id = ?", fileID).Select("COALESCE(MAX(version), 0)").Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("finding max version number: %w", err)
	}
	return n, nil
}

func (s *GormStore) DeleteVersionsForFiles(ctx context.Context, fileIDs []string) error {
	return deleteVersions(s.db.WithContext(ctx), fileIDs)
}

func deleteVersions(db *gorm.DB, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	if err := db.Where("file_id IN ?", fileIDs).Delete(&versionRow{}).Error; err != nil {
		return fmt.Errorf("deleting versions: %w", err)
	}
	return nil
}

// Transactional operations

func (s *GormStore) CreateFileWithVersion(ctx context.Context, file *model.File, version *model.Version) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toFileRow(file)).Error; err != nil {
			return fmt.Errorf("inserting file: %w", err)
		}
		if err := tx.Create(toVersionRow(version)).Error; err != nil {
			return fmt.Errorf("inserting version: %w", err)
		}
		return nil
	})
}

// AppendVersion holds a row lock on the parent file for the whole
// transaction, which serializes appends across processes on Postgres.
func (s *GormStore) AppendVersion(ctx context.Context, fileID string, build fileflow.VersionBuilder) (*model.Version, error) {
	var created *model.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := findFile(tx.Clauses(clause.Locking{Strength: "UPDATE"}), fileID)
		if err != nil {
			return err
		}
		if file == nil {
			return fmt.Errorf("file %s: %w", fileID, fileflow.ErrNotFound)
		}

		latest, err := maxVersionNumber(tx, fileID)
		if err != nil {
			return err
		}
		v, err := build(file, latest+1)
		if err != nil {
			return err
		}
		if err := tx.Create(toVersionRow(v)).Error; err != nil {
			return versionInsertError(v, err)
		}
		if err := updateFile(tx, file); err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *GormStore) DeleteFilesCascade(ctx context.Context, ids []string) (int, error) {
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteVersions(tx, ids); err != nil {
			return err
		}
		deleted, err := deleteFiles(tx, ids)
		n = deleted
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// versionInsertError reports a taken version number as ErrAlreadyExists.
func versionInsertError(v *model.Version, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("version %d of file %s: %w", v.Number, v.FileID, fileflow.ErrAlreadyExists)
	}
	return fmt.Errorf("inserting version: %w", err)
}
