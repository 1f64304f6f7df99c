package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fileSystemStore spools uploads to files under a directory.
//
// Directory structure:
//
//	<staging_dir>/
//	  files/
//	    <upload_id>    (spooled content)
type fileSystemStore struct {
	filesDir string
}

// NewFileSystemStagingArea creates a staging area that spools uploads to
// stagingDir. maxSize is the maximum total size in bytes; must be positive.
// Leftovers from a previous process are removed.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (*Area, error) {
	filesDir := filepath.Join(stagingDir, "files")

	if err := os.RemoveAll(filesDir); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return newArea(&fileSystemStore{filesDir: filesDir}, maxSize), nil
}

func (s *fileSystemStore) path(id string) string {
	return filepath.Join(s.filesDir, id)
}

func (s *fileSystemStore) Create(id string) (io.WriteCloser, error) {
	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating staged file: %w", err)
	}
	return f, nil
}

func (s *fileSystemStore) Open(id string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("opening staged file: %w", err)
	}
	return f, nil
}

func (s *fileSystemStore) Remove(id string) {
	os.Remove(s.path(id))
}
