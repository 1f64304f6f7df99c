package fileflow

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"fileflow/internal/model"
)

// DefaultContentType is recorded when an upload does not name a type.
const DefaultContentType = "application/octet-stream"

// UploadRequest describes a new file.
type UploadRequest struct {
	OwnerID    string
	Name       string
	Type       string
	Tags       []string
	SharedWith []string
	Encrypted  bool

	// Content is optional. Size is its plaintext length, or -1 if unknown.
	// Without content, Size is recorded as given.
	Content io.Reader
	Size    int64
}

// FileRepository implements file CRUD, favorites, sharing, search and
// cascade deletion on top of a Store.
type FileRepository struct {
	store    Store
	versions *VersionRepository
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewFileRepository creates a FileRepository. Versions are created and
// numbered through versions, which also owns the per-file mutation locks.
func NewFileRepository(store Store, versions *VersionRepository, logger Logger, clock Clock, idgen IDGenerator) *FileRepository {
	return &FileRepository{
		store:    store,
		versions: versions,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// Upload creates a file and its first version. Either both become visible
// or neither does.
func (r *FileRepository) Upload(ctx context.Context, req UploadRequest) (*model.File, error) {
	if !ValidID(req.OwnerID) {
		return nil, fmt.Errorf("malformed owner id %q: %w", req.OwnerID, ErrValidation)
	}
	name := SanitizeName(strings.TrimSpace(req.Name))
	if name == "" {
		return nil, fmt.Errorf("file name is required: %w", ErrValidation)
	}

	owner, err := r.store.FindUserByID(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("finding owner: %w", err)
	}
	if owner == nil {
		return nil, fmt.Errorf("owner %s: %w", req.OwnerID, ErrNotFound)
	}

	sharedWith, err := normalizeIDs(req.SharedWith, owner.ID)
	if err != nil {
		return nil, err
	}
	contentType := req.Type
	if contentType == "" {
		contentType = DefaultContentType
	}

	now := Timestamp(r.clock.Now())
	file := &model.File{
		ID:         r.idgen.New(),
		Name:       name,
		Size:       req.Size,
		Type:       contentType,
		Path:       "/" + name,
		OwnerID:    owner.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Shared:     len(sharedWith) > 0,
		SharedWith: sharedWith,
		Favorite:   false,
		Tags:       normalizeTags(req.Tags),
		Encrypted:  req.Encrypted,
	}
	if file.Size < 0 {
		file.Size = 0
	}

	r.versions.locks.Lock(file.ID)
	defer r.versions.locks.Unlock(file.ID)

	v := r.versions.newVersion(file, 1, owner.ID, InitialChanges, now)
	if req.Content != nil {
		if err := r.versions.storeContent(ctx, file, v, req.Content, req.Size); err != nil {
			return nil, fmt.Errorf("storing content: %w", err)
		}
		file.Size = v.Size
	} else {
		v.Size = file.Size
	}

	if err := r.versions.createInitial(ctx, file, v); err != nil {
		if req.Content != nil {
			r.versions.discardContent(ctx, v)
		}
		return nil, err
	}

	r.logger.Info("file uploaded", "file_id", file.ID, "name", file.Name, "owner", owner.ID, "size", file.Size)
	return file, nil
}

// ListForOwner returns one page of the files userID owns or collaborates on.
func (r *FileRepository) ListForOwner(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	return r.Search(ctx, userID, "", opts)
}

// Search returns one page of visible files whose name, type, or any tag
// contains term, case-insensitively.
func (r *FileRepository) Search(ctx context.Context, userID, term string, opts ListOptions) (*Page, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if !ValidID(userID) {
		return paginate(nil, opts), nil
	}

	files, err := r.store.ListVisibleFiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	term = strings.ToLower(strings.TrimSpace(term))
	matched := files[:0]
	for _, f := range files {
		// Stores already filter; this keeps a lax store from leaking.
		if f.VisibleTo(userID) && matchesTerm(f, term) {
			matched = append(matched, f)
		}
	}
	return paginate(matched, opts), nil
}

// GetByID returns a file, or nil if it does not exist.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*model.File, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("malformed file id %q: %w", id, ErrValidation)
	}
	file, err := r.store.FindFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return file, nil
}

// ToggleFavorite flips a file's favorite flag and returns the updated file,
// or nil if it does not exist.
func (r *FileRepository) ToggleFavorite(ctx context.Context, id string) (*model.File, error) {
	return r.mutate(ctx, id, "favorite toggled", func(f *model.File) error {
		f.Favorite = !f.Favorite
		return nil
	})
}

// Share grants collaborators access to a file. The owner is ignored.
func (r *FileRepository) Share(ctx context.Context, id string, userIDs ...string) (*model.File, error) {
	return r.mutate(ctx, id, "file shared", func(f *model.File) error {
		add, err := normalizeIDs(userIDs, f.OwnerID)
		if err != nil {
			return err
		}
		for _, uid := range add {
			if !slices.Contains(f.SharedWith, uid) {
				f.SharedWith = append(f.SharedWith, uid)
			}
		}
		f.Shared = len(f.SharedWith) > 0
		return nil
	})
}

// Unshare revokes collaborator access to a file.
func (r *FileRepository) Unshare(ctx context.Context, id string, userIDs ...string) (*model.File, error) {
	return r.mutate(ctx, id, "file unshared", func(f *model.File) error {
		f.SharedWith = slices.DeleteFunc(f.SharedWith, func(uid string) bool {
			return slices.Contains(userIDs, uid)
		})
		f.Shared = len(f.SharedWith) > 0
		return nil
	})
}

// SetTags replaces a file's tags.
func (r *FileRepository) SetTags(ctx context.Context, id string, tags []string) (*model.File, error) {
	return r.mutate(ctx, id, "tags updated", func(f *model.File) error {
		f.Tags = normalizeTags(tags)
		return nil
	})
}

// mutate applies change to a file under its lock and advances UpdatedAt.
// Returns nil if the file does not exist.
func (r *FileRepository) mutate(ctx context.Context, id, event string, change func(*model.File) error) (*model.File, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("malformed file id %q: %w", id, ErrValidation)
	}

	r.versions.locks.Lock(id)
	defer r.versions.locks.Unlock(id)

	file, err := r.store.FindFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, nil
	}

	if err := change(file); err != nil {
		return nil, err
	}
	file.UpdatedAt = advance(file.UpdatedAt, r.clock.Now())

	if err := r.store.UpdateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("updating file: %w", err)
	}
	r.logger.Info(event, "file_id", file.ID)
	return file, nil
}

// Delete removes a file and all its versions. Returns false if the file did
// not exist or the id is malformed.
func (r *FileRepository) Delete(ctx context.Context, id string) (bool, error) {
	if !ValidID(id) {
		return false, nil
	}
	n, err := r.deleteFiles(ctx, []string{id})
	return n == 1, err
}

// BulkDelete removes a batch of files with their versions and returns how
// many existed. Malformed and repeated ids are dropped first.
func (r *FileRepository) BulkDelete(ctx context.Context, ids []string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if ValidID(id) && !slices.Contains(valid, id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}
	return r.deleteFiles(ctx, valid)
}

func (r *FileRepository) deleteFiles(ctx context.Context, ids []string) (int, error) {
	// Sorted lock order keeps concurrent bulk deletes from deadlocking.
	sort.Strings(ids)
	for _, id := range ids {
		r.versions.locks.Lock(id)
		defer r.versions.locks.Unlock(id)
	}

	var blobPaths []string
	if r.versions.blobs != nil {
		for _, id := range ids {
			versions, err := r.store.ListVersions(ctx, id)
			if err != nil {
				return 0, fmt.Errorf("listing versions: %w", err)
			}
			for _, v := range versions {
				blobPaths = append(blobPaths, v.StoragePath)
			}
		}
	}

	var n int
	var err error
	if atomic, ok := r.store.(AtomicStore); ok {
		n, err = atomic.DeleteFilesCascade(ctx, ids)
		if err != nil {
			return 0, fmt.Errorf("deleting files: %w", err)
		}
	} else {
		// Files go first: versions of a missing file are never listed, so an
		// interrupted cascade cannot expose a file without versions.
		n, err = r.store.DeleteFiles(ctx, ids)
		if err != nil {
			return 0, fmt.Errorf("deleting files: %w", err)
		}
		if err := r.store.DeleteVersionsForFiles(ctx, ids); err != nil {
			r.logger.Error("deleting versions after files", "file_ids", ids, "error", err)
			return n, fmt.Errorf("deleting versions: %w", err)
		}
	}

	for _, p := range blobPaths {
		if err := r.versions.blobs.Delete(ctx, p); err != nil {
			r.logger.Warn("removing content", "path", p, "error", err)
		}
	}

	if n > 0 {
		r.logger.Info("files deleted", "count", n)
	}
	return n, nil
}

// WriteContent copies the plaintext of a file version to w. number 0 means
// the latest version. dec is required only for encrypted files.
// Returns ErrNotFound if the file or version does not exist.
func (r *FileRepository) WriteContent(ctx context.Context, fileID string, number int, dec DecryptionContext, w io.Writer) (*model.Version, error) {
	file, err := r.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}

	versions, err := r.versions.ListForFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	var target *model.Version
	for _, v := range versions {
		if number == 0 || v.Number == number {
			target = v
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("version %d of file %s: %w", number, fileID, ErrNotFound)
	}

	if err := r.versions.writeContent(ctx, file, target, dec, w); err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return target, nil
}

// CanRead reports whether userID may read a file.
func CanRead(f *model.File, userID string) bool {
	return f.VisibleTo(userID)
}

// CanManage reports whether userID may delete a file or change its sharing.
func CanManage(f *model.File, userID string) bool {
	return f.OwnerID == userID
}
