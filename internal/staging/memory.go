package staging

import (
	"bytes"
	"fmt"
	"io"
)

// memoryStore keeps spooled uploads in memory.
type memoryStore struct {
	entries map[string]*bytes.Buffer
}

// NewMemoryStagingArea creates a staging area that buffers uploads in memory.
// maxSize is the maximum total size in bytes; must be positive.
func NewMemoryStagingArea(maxSize int64) *Area {
	return newArea(&memoryStore{entries: make(map[string]*bytes.Buffer)}, maxSize)
}

func (m *memoryStore) Create(id string) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	m.entries[id] = buf
	return nopWriteCloser{buf}, nil
}

func (m *memoryStore) Open(id string) (io.ReadCloser, error) {
	buf, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("staged upload %s not found", id)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (m *memoryStore) Remove(id string) {
	delete(m.entries, id)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
