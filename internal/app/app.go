package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"fileflow/internal/auth"
	"fileflow/internal/blob"
	"fileflow/internal/config"
	"fileflow/internal/database"
	"fileflow/internal/encryption"
	"fileflow/internal/fileflow"
	"fileflow/internal/fs"
	"fileflow/internal/model"
	"fileflow/internal/staging"
)

// FileFlowApp is the application layer between the CLI or HTTP API and the
// repositories. It constructs all dependencies from config, enforces who may
// do what to a file, and releases resources on Close.
type FileFlowApp struct {
	cfg       *config.Config
	store     fileflow.Store
	blobs     fileflow.BlobStore
	encryptor fileflow.Encryptor
	staging   *staging.Area
	fsys      *fs.OSFilesystem
	files     *fileflow.FileRepository
	versions  *fileflow.VersionRepository
	auth      *auth.Service
	logger    fileflow.Logger
	op        *Operation
	logFile   *os.File
}

// NewFileFlowApp creates a fully wired FileFlowApp from the given config.
// operation names the CLI command being run (e.g. "upload", "serve").
// The caller must call Close when done.
func NewFileFlowApp(ctx context.Context, cfg *config.Config, operation string) (*FileFlowApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	op := NewOperation(operation, fileflow.RealClock{}.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &FileFlowApp{cfg: cfg, logger: logger, op: op, logFile: logFile, fsys: fs.NewOSFilesystem()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *FileFlowApp) wire(ctx context.Context) error {
	store, err := database.NewStoreFromConfig(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	a.store = store

	blobs, err := blob.NewBlobStoreFromConfig(ctx, a.cfg.Blob)
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}
	if err := blobs.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("blob store not usable: %w", err)
	}
	a.blobs = blobs

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	sa, err := staging.NewStagingAreaFromConfig(a.cfg.Staging)
	if err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}
	a.staging = sa

	clock, idgen := fileflow.RealClock{}, fileflow.UUIDGenerator{}
	a.versions = fileflow.NewVersionRepository(store, blobs, enc, a.logger, clock, idgen)
	a.files = fileflow.NewFileRepository(store, a.versions, a.logger, clock, idgen)

	a.auth, err = auth.NewService(store, a.cfg.Auth, a.logger, clock, idgen)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	return nil
}

// Config returns the configuration the app was built from.
func (a *FileFlowApp) Config() *config.Config { return a.cfg }

// Logger returns the app's logger.
func (a *FileFlowApp) Logger() fileflow.Logger { return a.logger }

// Fail marks the current operation as failed for the closing log entry.
func (a *FileFlowApp) Fail() { a.op.Fail() }

// Identity

// Register creates a user account.
func (a *FileFlowApp) Register(ctx context.Context, email, password, fullName string) (*model.User, error) {
	return a.auth.Register(ctx, email, password, fullName)
}

// Login checks an email and password and returns the user and a credential.
func (a *FileFlowApp) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	return a.auth.Authenticate(ctx, email, password)
}

// Session resolves a credential to its user.
func (a *FileFlowApp) Session(ctx context.Context, credential string) (*model.User, error) {
	return a.auth.ResolveSession(ctx, credential)
}

// Encryption

// InitEncryption generates the key pair used for encrypted files.
func (a *FileFlowApp) InitEncryption(passphrase string) error {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	a.logger.Info("encryption keys generated")
	return nil
}

// Files

// UploadOptions are the per-upload choices shared by the CLI and HTTP API.
type UploadOptions struct {
	Type       string // detected from content when empty
	Tags       []string
	SharedWith []string
	Encrypted  bool
}

// Upload spools r and stores it as a new file owned by user.
func (a *FileFlowApp) Upload(ctx context.Context, user *model.User, name string, r io.Reader, opts UploadOptions) (*model.File, error) {
	u, err := a.staging.Stage(r, opts.Type)
	if err != nil {
		return nil, err
	}
	defer u.Close()
	return a.uploadStaged(ctx, user, name, u, opts)
}

// UploadPath uploads a local file, or every regular file in a local
// directory. Returns the files created before any failure.
func (a *FileFlowApp) UploadPath(ctx context.Context, user *model.User, rawPath string, recursive bool, opts UploadOptions) ([]*model.File, error) {
	f, err := a.fsys.Resolve(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	targets := []*fs.LocalFile{f}
	if f.IsDir() {
		targets, err = a.fsys.FindFiles(f, recursive)
		if err != nil {
			return nil, err
		}
	}

	var created []*model.File
	for _, t := range targets {
		u, err := a.staging.StageFile(a.fsys, t, opts.Type)
		if err != nil {
			return created, fmt.Errorf("staging %s: %w", t.Path(), err)
		}
		file, err := a.uploadStaged(ctx, user, t.Name(), u, opts)
		u.Close()
		if err != nil {
			return created, fmt.Errorf("uploading %s: %w", t.Path(), err)
		}
		created = append(created, file)
	}
	return created, nil
}

func (a *FileFlowApp) uploadStaged(ctx context.Context, user *model.User, name string, u *staging.Upload, opts UploadOptions) (*model.File, error) {
	rc, err := u.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return a.files.Upload(ctx, fileflow.UploadRequest{
		OwnerID:    user.ID,
		Name:       name,
		Type:       u.Type,
		Tags:       opts.Tags,
		SharedWith: opts.SharedWith,
		Encrypted:  opts.Encrypted,
		Content:    rc,
		Size:       u.Size,
	})
}

// List returns one page of the files visible to user.
func (a *FileFlowApp) List(ctx context.Context, user *model.User, opts fileflow.ListOptions) (*fileflow.Page, error) {
	return a.files.ListForOwner(ctx, user.ID, opts)
}

// Search returns one page of visible files matching term.
func (a *FileFlowApp) Search(ctx context.Context, user *model.User, term string, opts fileflow.ListOptions) (*fileflow.Page, error) {
	return a.files.Search(ctx, user.ID, term, opts)
}

// File returns a file user may read. Files user cannot see are reported as
// not found.
func (a *FileFlowApp) File(ctx context.Context, user *model.User, id string) (*model.File, error) {
	f, err := a.files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil || !fileflow.CanRead(f, user.ID) {
		return nil, fmt.Errorf("file %s: %w", id, fileflow.ErrNotFound)
	}
	return f, nil
}

// managed returns a file only its owner may change.
func (a *FileFlowApp) managed(ctx context.Context, user *model.User, id string) (*model.File, error) {
	f, err := a.File(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !fileflow.CanManage(f, user.ID) {
		return nil, fmt.Errorf("file %s is owned by another user: %w", id, fileflow.ErrForbidden)
	}
	return f, nil
}

// ToggleFavorite flips the favorite flag on a file user may read.
func (a *FileFlowApp) ToggleFavorite(ctx context.Context, user *model.User, id string) (*model.File, error) {
	if _, err := a.File(ctx, user, id); err != nil {
		return nil, err
	}
	return orNotFound(a.files.ToggleFavorite(ctx, id))
}

// SetTags replaces the tags on a file user may read.
func (a *FileFlowApp) SetTags(ctx context.Context, user *model.User, id string, tags []string) (*model.File, error) {
	if _, err := a.File(ctx, user, id); err != nil {
		return nil, err
	}
	return orNotFound(a.files.SetTags(ctx, id, tags))
}

// Share grants collaborators access. Owner only.
func (a *FileFlowApp) Share(ctx context.Context, user *model.User, id string, userIDs ...string) (*model.File, error) {
	if _, err := a.managed(ctx, user, id); err != nil {
		return nil, err
	}
	for _, uid := range userIDs {
		if !fileflow.ValidID(uid) {
			return nil, fmt.Errorf("malformed user id %q: %w", uid, fileflow.ErrValidation)
		}
		collaborator, err := a.store.FindUserByID(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("finding user: %w", err)
		}
		if collaborator == nil {
			return nil, fmt.Errorf("user %s: %w", uid, fileflow.ErrNotFound)
		}
	}
	return orNotFound(a.files.Share(ctx, id, userIDs...))
}

// Unshare revokes collaborator access. Owner only.
func (a *FileFlowApp) Unshare(ctx context.Context, user *model.User, id string, userIDs ...string) (*model.File, error) {
	if _, err := a.managed(ctx, user, id); err != nil {
		return nil, err
	}
	return orNotFound(a.files.Unshare(ctx, id, userIDs...))
}

// Delete removes files user owns. Nothing is deleted if any id names a file
// user can see but does not own. Ids user cannot see are skipped.
func (a *FileFlowApp) Delete(ctx context.Context, user *model.User, ids []string) (int, error) {
	var owned []string
	for _, id := range ids {
		if !fileflow.ValidID(id) || slices.Contains(owned, id) {
			continue
		}
		_, err := a.managed(ctx, user, id)
		switch {
		case err == nil:
			owned = append(owned, id)
		case errors.Is(err, fileflow.ErrNotFound):
		default:
			return 0, err
		}
	}
	if len(owned) == 0 {
		return 0, nil
	}
	return a.files.BulkDelete(ctx, owned)
}

// Versions

// Versions lists the versions of a file user may read, newest first.
func (a *FileFlowApp) Versions(ctx context.Context, user *model.User, id string) ([]*model.Version, error) {
	if _, err := a.File(ctx, user, id); err != nil {
		return nil, err
	}
	return a.versions.ListForFile(ctx, id)
}

// Commit adds a version to a file user may read. r may be nil to record a
// change note without new content.
func (a *FileFlowApp) Commit(ctx context.Context, user *model.User, id string, r io.Reader, changes string) (*model.Version, error) {
	if _, err := a.File(ctx, user, id); err != nil {
		return nil, err
	}
	req := fileflow.AddVersionRequest{FileID: id, AuthorID: user.ID, Changes: changes}
	if r == nil {
		return a.versions.AddVersion(ctx, req)
	}

	u, err := a.staging.Stage(r, "")
	if err != nil {
		return nil, err
	}
	defer u.Close()
	rc, err := u.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	req.Content, req.Size = rc, u.Size
	return a.versions.AddVersion(ctx, req)
}

// CommitPath adds a version from a local file.
func (a *FileFlowApp) CommitPath(ctx context.Context, user *model.User, id, rawPath, changes string) (*model.Version, error) {
	f, err := a.fsys.Resolve(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	rc, err := a.fsys.Open(f)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return a.Commit(ctx, user, id, rc, changes)
}

// Download writes the plaintext of a version (0 means latest) to w.
// passphrase is only consulted for encrypted files.
func (a *FileFlowApp) Download(ctx context.Context, user *model.User, id string, number int, passphrase func() (string, error), w io.Writer) (*model.Version, error) {
	f, err := a.File(ctx, user, id)
	if err != nil {
		return nil, err
	}

	var dec fileflow.DecryptionContext
	if f.Encrypted {
		if passphrase == nil {
			return nil, fmt.Errorf("file is encrypted: %w", fileflow.ErrValidation)
		}
		p, err := passphrase()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		dec, err = a.encryptor.Unlock(p)
		if err != nil {
			return nil, err
		}
	}
	return a.files.WriteContent(ctx, id, number, dec, w)
}

// Close logs the operation outcome and releases all resources.
func (a *FileFlowApp) Close() error {
	var firstErr error

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing store: %w", err)
		}
	}

	if a.logger != nil {
		a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", a.op.Elapsed(fileflow.RealClock{}.Now()))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// orNotFound turns a repository's nil result for a vanished file into
// ErrNotFound.
func orNotFound(f *model.File, err error) (*model.File, error) {
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fileflow.ErrNotFound
	}
	return f, nil
}
