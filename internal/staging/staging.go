package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"fileflow/internal/fileflow"
	"fileflow/internal/fs"
)

// sniffLen is how much of the head of an upload is kept for type detection.
const sniffLen = 3072

// ErrTooLarge is returned when an upload does not fit in the staging area.
var ErrTooLarge = errors.New("upload exceeds staging limit")

// Upload is content spooled by an Area. Size, checksum and type are known
// before it is handed to a repository. Close releases the spooled bytes.
type Upload struct {
	ID       string
	Size     int64
	Checksum string // hex SHA-256
	Type     string

	area     *Area
	released bool
}

// Open returns a reader over the spooled content. It may be called more
// than once.
func (u *Upload) Open() (io.ReadCloser, error) {
	u.area.mu.Lock()
	defer u.area.mu.Unlock()
	if u.released {
		return nil, fmt.Errorf("staged upload %s already released", u.ID)
	}
	return u.area.store.Open(u.ID)
}

// Close removes the spooled content. It is safe to call more than once.
func (u *Upload) Close() error {
	u.area.mu.Lock()
	defer u.area.mu.Unlock()
	if u.released {
		return nil
	}
	u.released = true
	u.area.store.Remove(u.ID)
	u.area.size -= u.Size
	u.area.count--
	return nil
}

// Area buffers uploads of unknown length up to a total size limit, using a
// pluggable stagingStore for the storage mechanics.
type Area struct {
	store   stagingStore
	maxSize int64

	mu    sync.Mutex
	size  int64
	count int
}

func newArea(store stagingStore, maxSize int64) *Area {
	return &Area{store: store, maxSize: maxSize}
}

// Stage spools r. declaredType wins when set; otherwise the type is
// detected from the first bytes.
func (a *Area) Stage(r io.Reader, declaredType string) (*Upload, error) {
	id := uuid.NewString()

	a.mu.Lock()
	remaining := a.maxSize - a.size
	w, err := a.store.Create(id)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("creating staged upload: %w", err)
	}

	h := sha256.New()
	head := &headBuffer{}
	n, err := io.Copy(io.MultiWriter(w, h, head), io.LimitReader(r, remaining+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		a.remove(id)
		return nil, fmt.Errorf("spooling upload: %w", err)
	}
	if n > remaining {
		a.remove(id)
		return nil, fmt.Errorf("%w: limit is %d bytes: %w", ErrTooLarge, a.maxSize, fileflow.ErrValidation)
	}

	// Reserve space, re-checking against concurrent stages.
	a.mu.Lock()
	if a.size+n > a.maxSize {
		a.store.Remove(id)
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: staging area full: %w", ErrTooLarge, fileflow.ErrValidation)
	}
	a.size += n
	a.count++
	a.mu.Unlock()

	contentType := declaredType
	if contentType == "" {
		contentType = mimetype.Detect(head.buf).String()
	}

	return &Upload{
		ID:       id,
		Size:     n,
		Checksum: hex.EncodeToString(h.Sum(nil)),
		Type:     contentType,
		area:     a,
	}, nil
}

// StageFile spools a local file and fails if it changed while being read.
func (a *Area) StageFile(fsys *fs.OSFilesystem, f *fs.LocalFile, declaredType string) (*Upload, error) {
	rc, err := fsys.Open(f)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	u, err := a.Stage(rc, declaredType)
	rc.Close()
	if err != nil {
		return nil, err
	}

	after, err := fsys.Stat(f)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("re-stat file: %w", err)
	}
	if err := fs.CheckUnchanged(f.Info(), after); err != nil {
		u.Close()
		return nil, fmt.Errorf("file changed during staging: %w", err)
	}
	return u, nil
}

func (a *Area) remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store.Remove(id)
}

// Count returns the number of uploads currently staged.
func (a *Area) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Size returns the total size of staged content in bytes.
func (a *Area) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// headBuffer keeps the first sniffLen bytes written to it.
type headBuffer struct {
	buf []byte
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := sniffLen - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}
