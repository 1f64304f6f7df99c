package fileflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/im7mortal/kmutex"

	"fileflow/internal/model"
)

// InitialChanges is the change note recorded on every file's first version.
const InitialChanges = "Initial upload"

const maxAppendAttempts = 3

// AddVersionRequest describes a new version of an existing file.
type AddVersionRequest struct {
	FileID   string
	AuthorID string
	Changes  string

	// Content is optional. Size is its plaintext length, or -1 if unknown.
	Content io.Reader
	Size    int64
}

// VersionRepository numbers, stores and lists file versions.
type VersionRepository struct {
	store     Store
	blobs     BlobStore
	encryptor Encryptor
	locks     *kmutex.Kmutex
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewVersionRepository creates a VersionRepository. blobs and encryptor may
// be nil when content is never supplied or never encrypted.
func NewVersionRepository(store Store, blobs BlobStore, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator) *VersionRepository {
	return &VersionRepository{
		store:     store,
		blobs:     blobs,
		encryptor: encryptor,
		locks:     kmutex.New(),
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// ListForFile returns the versions of a file, most recent first.
// Unknown or malformed ids yield an empty list.
func (r *VersionRepository) ListForFile(ctx context.Context, fileID string) ([]*model.Version, error) {
	if !ValidID(fileID) {
		return []*model.Version{}, nil
	}

	// Versions of a file that is gone are never visible, even if a
	// non-atomic delete left some behind.
	file, err := r.store.FindFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return []*model.Version{}, nil
	}

	versions, err := r.store.ListVersions(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Number > versions[j].Number })
	return versions, nil
}

// AddVersion appends version max+1 to a file and advances the file's
// modification time. Returns ErrNotFound if the file does not exist.
func (r *VersionRepository) AddVersion(ctx context.Context, req AddVersionRequest) (*model.Version, error) {
	if !ValidID(req.FileID) {
		return nil, fmt.Errorf("malformed file id %q: %w", req.FileID, ErrValidation)
	}
	if !ValidID(req.AuthorID) {
		return nil, fmt.Errorf("malformed author id %q: %w", req.AuthorID, ErrValidation)
	}

	r.locks.Lock(req.FileID)
	defer r.locks.Unlock(req.FileID)

	file, err := r.store.FindFile(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", req.FileID, ErrNotFound)
	}

	// The number is assigned when the store commits; the blob path is keyed
	// by the version id, so a writer in another process never shares it.
	now := r.clock.Now()
	pending := r.newVersion(file, 0, req.AuthorID, req.Changes, now)
	if req.Content != nil {
		if err := r.storeContent(ctx, file, pending, req.Content, req.Size); err != nil {
			return nil, fmt.Errorf("storing content: %w", err)
		}
	}

	build := func(locked *model.File, next int) (*model.Version, error) {
		pending.Number = next
		locked.UpdatedAt = advance(locked.UpdatedAt, now)
		if req.Content != nil {
			locked.Size = pending.Size
		}
		return pending, nil
	}

	// A writer in another process may claim the number first; the store
	// rejects the duplicate and the append is retried with a fresh number.
	var v *model.Version
	for attempt := 1; ; attempt++ {
		if atomic, ok := r.store.(AtomicStore); ok {
			v, err = atomic.AppendVersion(ctx, file.ID, build)
		} else {
			v, err = r.appendSequential(ctx, file, build)
		}
		if err == nil || !errors.Is(err, ErrAlreadyExists) || attempt == maxAppendAttempts {
			break
		}
		r.logger.Warn("version number taken, retrying", "file_id", file.ID, "attempt", attempt)
	}
	if err != nil {
		if req.Content != nil {
			r.discardContent(ctx, pending)
		}
		return nil, fmt.Errorf("adding version: %w", err)
	}

	r.logger.Info("version added", "file_id", file.ID, "version", v.Number, "author", req.AuthorID)
	return v, nil
}

// appendSequential is the fallback for stores without transactions: the
// version is written first, then the parent file. The per-file lock held by
// the caller keeps numbering strictly increasing within this process.
func (r *VersionRepository) appendSequential(ctx context.Context, file *model.File, build VersionBuilder) (*model.Version, error) {
	latest, err := r.store.MaxVersionNumber(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("finding latest version: %w", err)
	}
	v, err := build(file, latest+1)
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}
	if err := r.store.UpdateFile(ctx, file); err != nil {
		// The version is durable; only the parent timestamp lags.
		r.logger.Error("updating file after version insert", "file_id", file.ID, "version", v.Number, "error", err)
		return nil, fmt.Errorf("updating file: %w", err)
	}
	return v, nil
}

// createInitial persists a new file together with its first version.
// Without a transactional store, a failed version write is compensated by
// deleting the file so no file is ever visible without versions.
func (r *VersionRepository) createInitial(ctx context.Context, file *model.File, v *model.Version) error {
	if atomic, ok := r.store.(AtomicStore); ok {
		if err := atomic.CreateFileWithVersion(ctx, file, v); err != nil {
			return fmt.Errorf("creating file: %w", err)
		}
		return nil
	}

	if err := r.store.InsertFile(ctx, file); err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	if err := r.store.InsertVersion(ctx, v); err != nil {
		r.logger.Warn("initial version failed, removing file", "file_id", file.ID, "error", err)
		if _, derr := r.store.DeleteFiles(ctx, []string{file.ID}); derr != nil {
			r.logger.Error("compensating delete failed", "file_id", file.ID, "error", derr)
		}
		return fmt.Errorf("inserting initial version: %w", err)
	}
	return nil
}

func (r *VersionRepository) newVersion(file *model.File, number int, author, changes string, now time.Time) *model.Version {
	id := r.idgen.New()
	return &model.Version{
		ID:          id,
		FileID:      file.ID,
		Number:      number,
		CreatedAt:   Timestamp(now),
		CreatedBy:   author,
		Changes:     changes,
		StoragePath: StoragePath(file.ID, id),
	}
}

// StoragePath returns the logical blob path of a file version. Paths are
// keyed by version id so content never moves once written.
func StoragePath(fileID, versionID string) string {
	return fmt.Sprintf("/%s/%s", fileID, versionID)
}

// storeContent streams content to the version's storage path, encrypting it
// when the file is encrypted, and records plaintext size and checksum.
func (r *VersionRepository) storeContent(ctx context.Context, file *model.File, v *model.Version, content io.Reader, size int64) error {
	if r.blobs == nil {
		return fmt.Errorf("no blob store configured: %w", ErrValidation)
	}
	if file.Encrypted && r.encryptor == nil {
		return fmt.Errorf("file is encrypted but no encryptor is configured: %w", ErrValidation)
	}

	h := sha256.New()
	counter := &countingWriter{}
	src := io.TeeReader(content, io.MultiWriter(h, counter))

	if !file.Encrypted {
		if err := r.blobs.Put(ctx, v.StoragePath, src, size); err != nil {
			return err
		}
	} else {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(r.encryptor.Encrypt(src, pw))
		}()
		err := r.blobs.Put(ctx, v.StoragePath, pr, -1)
		pr.CloseWithError(err)
		if err != nil {
			return err
		}
		if size >= 0 && counter.n != size {
			r.discardContent(ctx, v)
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
		}
	}

	v.Size = counter.n
	v.Checksum = hex.EncodeToString(h.Sum(nil))
	return nil
}

// discardContent removes a blob whose metadata never committed.
func (r *VersionRepository) discardContent(ctx context.Context, v *model.Version) {
	if r.blobs == nil {
		return
	}
	if err := r.blobs.Delete(ctx, v.StoragePath); err != nil {
		r.logger.Warn("removing orphaned content", "path", v.StoragePath, "error", err)
	}
}

// writeContent copies the plaintext of a version to w. Encrypted files need
// an unlocked DecryptionContext.
func (r *VersionRepository) writeContent(ctx context.Context, file *model.File, v *model.Version, dec DecryptionContext, w io.Writer) error {
	if r.blobs == nil {
		return fmt.Errorf("no blob store configured: %w", ErrValidation)
	}
	if !file.Encrypted {
		return r.blobs.Get(ctx, v.StoragePath, w)
	}
	if dec == nil {
		return fmt.Errorf("file is encrypted and no decryption context was given: %w", ErrValidation)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(r.blobs.Get(ctx, v.StoragePath, pw))
	}()
	err := dec.Decrypt(pr, w)
	pr.CloseWithError(err)
	return err
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
