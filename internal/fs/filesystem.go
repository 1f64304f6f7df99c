package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFile is a path on the local filesystem resolved for upload.
type LocalFile struct {
	path string
	info fs.FileInfo
}

// Path returns the absolute path.
func (f *LocalFile) Path() string { return f.path }

// Name returns the final path element.
func (f *LocalFile) Name() string { return filepath.Base(f.path) }

// IsDir reports whether the path is a directory.
func (f *LocalFile) IsDir() bool { return f.info.IsDir() }

// Info returns the FileInfo captured at resolve time.
func (f *LocalFile) Info() fs.FileInfo { return f.info }

// OSFilesystem resolves and reads local files for the CLI.
type OSFilesystem struct{}

// NewOSFilesystem creates a filesystem that operates on the real filesystem.
func NewOSFilesystem() *OSFilesystem {
	return &OSFilesystem{}
}

// Resolve validates a raw path and returns a LocalFile. Only regular files
// and directories are accepted.
func (m *OSFilesystem) Resolve(rawPath string) (*LocalFile, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return nil, fmt.Errorf("symlinks not supported: %s", absPath)
	case mode&os.ModeDevice != 0:
		return nil, fmt.Errorf("device files not supported: %s", absPath)
	case mode&os.ModeNamedPipe != 0:
		return nil, fmt.Errorf("named pipes not supported: %s", absPath)
	case mode&os.ModeSocket != 0:
		return nil, fmt.Errorf("sockets not supported: %s", absPath)
	}

	return &LocalFile{path: absPath, info: info}, nil
}

// Open opens a file for reading.
func (m *OSFilesystem) Open(f *LocalFile) (io.ReadCloser, error) {
	if f.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", f.path)
	}
	return os.Open(f.path)
}

// Stat returns fresh file info for a path.
func (m *OSFilesystem) Stat(f *LocalFile) (fs.FileInfo, error) {
	return os.Lstat(f.path)
}

// FindFiles lists the regular files under a directory.
func (m *OSFilesystem) FindFiles(dir *LocalFile, recursive bool) ([]*LocalFile, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir.path)
	}

	var files []*LocalFile

	if recursive {
		err := filepath.WalkDir(dir.path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			files = append(files, &LocalFile{path: p, info: info})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking directory: %w", err)
		}
		return files, nil
	}

	entries, err := os.ReadDir(dir.path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, &LocalFile{path: filepath.Join(dir.path, entry.Name()), info: info})
	}
	return files, nil
}

// CheckUnchanged reports an error if a file changed between two stats.
// Access time is ignored since reading the file may update it.
func CheckUnchanged(before, after fs.FileInfo) error {
	if before.Size() != after.Size() {
		return fmt.Errorf("size changed: %d -> %d", before.Size(), after.Size())
	}
	if before.Mode() != after.Mode() {
		return fmt.Errorf("mode changed: %v -> %v", before.Mode(), after.Mode())
	}
	if !before.ModTime().Equal(after.ModTime()) {
		return fmt.Errorf("mtime changed: %v -> %v", before.ModTime(), after.ModTime())
	}
	return nil
}
