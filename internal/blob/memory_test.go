package blob

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"fileflow/internal/fileflow"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		data    string
		size    int64
		wantErr bool
	}{
		{"known size", "hello world", 11, false},
		{"unknown size", "streamed", -1, false},
		{"size mismatch", "hello", 100, true},
		{"empty content", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemoryStore()
			err := m.Put(ctx, "/f/1", strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if m.Len() != 0 {
					t.Errorf("Len() = %d after failed Put, want 0", m.Len())
				}
				return
			}

			var buf bytes.Buffer
			if err := m.Get(ctx, "/f/1", &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if buf.String() != tt.data {
				t.Errorf("Get() = %q, want %q", buf.String(), tt.data)
			}
		})
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	err := NewMemoryStore().Get(context.Background(), "/nope/1", &bytes.Buffer{})
	if !errors.Is(err, fileflow.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(ctx, "/f/1", strings.NewReader("x"), 1)

	if err := m.Delete(ctx, "/f/1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := m.Delete(ctx, "/f/1"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}
