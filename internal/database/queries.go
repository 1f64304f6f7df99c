package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fileflow/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the statements used by SQLiteDatabase. A Queries bound to a
// transaction comes from WithTx.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Users

const insertUser = `INSERT INTO users (id, email, password_hash, full_name, avatar_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertUser(ctx context.Context, u *model.User) error {
	_, err := q.db.ExecContext(ctx, insertUser,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.AvatarURL, millis(u.CreatedAt), millis(u.UpdatedAt))
	return err
}

const selectUser = `SELECT id, email, password_hash, full_name, avatar_url, created_at, updated_at FROM users`

func (q *Queries) GetUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	var created, updated int64
	err := q.db.QueryRowContext(ctx, selectUser+" WHERE "+where, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.AvatarURL, &created, &updated)
	if err != nil {
		return nil, err
	}
	u.CreatedAt, u.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &u, nil
}

// Files

const insertFile = `INSERT INTO files (id, name, size, type, path, owner_id, created_at, updated_at, shared, favorite, encrypted)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertFile(ctx context.Context, f *model.File) error {
	_, err := q.db.ExecContext(ctx, insertFile,
		f.ID, f.Name, f.Size, f.Type, f.Path, f.OwnerID, millis(f.CreatedAt), millis(f.UpdatedAt),
		f.Shared, f.Favorite, f.Encrypted)
	if err != nil {
		return err
	}
	return q.replaceFileSets(ctx, f)
}

const updateFile = `UPDATE files SET name = ?, size = ?, type = ?, path = ?, updated_at = ?, shared = ?, favorite = ?, encrypted = ?
WHERE id = ?`

// UpdateFile reports whether a row was updated.
func (q *Queries) UpdateFile(ctx context.Context, f *model.File) (bool, error) {
	res, err := q.db.ExecContext(ctx, updateFile,
		f.Name, f.Size, f.Type, f.Path, millis(f.UpdatedAt), f.Shared, f.Favorite, f.Encrypted, f.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	return true, q.replaceFileSets(ctx, f)
}

// replaceFileSets rewrites the tag and collaborator rows of a file,
// preserving their order.
func (q *Queries) replaceFileSets(ctx context.Context, f *model.File) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM file_tags WHERE file_id = ?`, f.ID); err != nil {
		return err
	}
	for i, tag := range f.Tags {
		if _, err := q.db.ExecContext(ctx, `INSERT INTO file_tags (file_id, position, tag) VALUES (?, ?, ?)`, f.ID, i, tag); err != nil {
			return err
		}
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM file_collaborators WHERE file_id = ?`, f.ID); err != nil {
		return err
	}
	for i, uid := range f.SharedWith {
		if _, err := q.db.ExecContext(ctx, `INSERT INTO file_collaborators (file_id, user_id, position) VALUES (?, ?, ?)`, f.ID, uid, i); err != nil {
			return err
		}
	}
	return nil
}

const selectFiles = `SELECT id, name, size, type, path, owner_id, created_at, updated_at, shared, favorite, encrypted FROM files`

// GetFile returns sql.ErrNoRows if the file does not exist.
func (q *Queries) GetFile(ctx context.Context, id string) (*model.File, error) {
	files, err := q.listFiles(ctx, selectFiles+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, sql.ErrNoRows
	}
	return files[0], nil
}

const selectVisibleFiles = selectFiles + `
WHERE owner_id = ?
   OR id IN (SELECT file_id FROM file_collaborators WHERE user_id = ?)`

func (q *Queries) ListVisibleFiles(ctx context.Context, userID string) ([]*model.File, error) {
	return q.listFiles(ctx, selectVisibleFiles, userID, userID)
}

func (q *Queries) listFiles(ctx context.Context, query string, args ...any) ([]*model.File, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []*model.File{}
	byID := map[string]*model.File{}
	for rows.Next() {
		f := &model.File{Tags: []string{}, SharedWith: []string{}}
		var created, updated int64
		if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.Type, &f.Path, &f.OwnerID, &created, &updated,
			&f.Shared, &f.Favorite, &f.Encrypted); err != nil {
			return nil, err
		}
		f.CreatedAt, f.UpdatedAt = fromMillis(created), fromMillis(updated)
		files = append(files, f)
		byID[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(files) == 0 {
		return files, nil
	}
	if err := q.loadFileSets(ctx, byID); err != nil {
		return nil, err
	}
	return files, nil
}

// loadFileSets fills Tags and SharedWith for the given files.
func (q *Queries) loadFileSets(ctx context.Context, byID map[string]*model.File) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	in := placeholders(len(ids))

	rows, err := q.db.QueryContext(ctx,
		`SELECT file_id, tag FROM file_tags WHERE file_id IN (`+in+`) ORDER BY file_id, position`, stringArgs(ids)...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var fileID, tag string
		if err := rows.Scan(&fileID, &tag); err != nil {
			rows.Close()
			return err
		}
		byID[fileID].Tags = append(byID[fileID].Tags, tag)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = q.db.QueryContext(ctx,
		`SELECT file_id, user_id FROM file_collaborators WHERE file_id IN (`+in+`) ORDER BY file_id, position`, stringArgs(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fileID, userID string
		if err := rows.Scan(&fileID, &userID); err != nil {
			return err
		}
		byID[fileID].SharedWith = append(byID[fileID].SharedWith, userID)
	}
	return rows.Err()
}

// DeleteFiles removes files and, through ON DELETE CASCADE, their versions,
// tags and collaborators. Returns the number of files removed.
func (q *Queries) DeleteFiles(ctx context.Context, ids []string) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM files WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Versions

const insertVersion = `INSERT INTO file_versions (id, file_id, number, created_at, created_by, changes, storage_path, size, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertVersion(ctx context.Context, v *model.Version) error {
	_, err := q.db.ExecContext(ctx, insertVersion,
		v.ID, v.FileID, v.Number, millis(v.CreatedAt), v.CreatedBy, v.Changes, v.StoragePath, v.Size, v.Checksum)
	return err
}

const selectVersions = `SELECT id, file_id, number, created_at, created_by, changes, storage_path, size, checksum
FROM file_versions WHERE file_id = ? ORDER BY number DESC`

func (q *Queries) ListVersions(ctx context.Context, fileID string) ([]*model.Version, error) {
	rows, err := q.db.QueryContext(ctx, selectVersions, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := []*model.Version{}
	for rows.Next() {
		v := &model.Version{}
		var created int64
		if err := rows.Scan(&v.ID, &v.FileID, &v.Number, &created, &v.CreatedBy, &v.Changes, &v.StoragePath,
			&v.Size, &v.Checksum); err != nil {
			return nil, err
		}
		v.CreatedAt = fromMillis(created)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (q *Queries) MaxVersionNumber(ctx context.Context, fileID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) FROM file_versions WHERE file_id = ?`, fileID).Scan(&n)
	return n, err
}

func (q *Queries) DeleteVersionsForFiles(ctx context.Context, fileIDs []string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM file_versions WHERE file_id IN (`+placeholders(len(fileIDs))+`)`, stringArgs(fileIDs)...)
	return err
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
