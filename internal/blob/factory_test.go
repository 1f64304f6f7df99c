package blob

import (
	"context"
	"testing"

	"fileflow/internal/config"
)

func TestNewBlobStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BlobConfig
		wantErr bool
	}{
		{"memory store", config.BlobConfig{Type: "memory"}, false},
		{"filesystem store", config.BlobConfig{Type: "filesystem", Root: t.TempDir()}, false},
		{"filesystem store without root", config.BlobConfig{Type: "filesystem"}, true},
		{"s3 store without bucket", config.BlobConfig{Type: "s3"}, true},
		{"unknown type", config.BlobConfig{Type: "ftp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBlobStoreFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBlobStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Error("NewBlobStoreFromConfig() should return nil on error")
				}
				return
			}
			if err := got.ValidateSetup(context.Background()); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestS3Store_ObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "/abc/1", "abc/1"},
		{"fileflow", "/abc/1", "fileflow/abc/1"},
		{"/fileflow/", "/abc/2", "fileflow/abc/2"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+tt.path, func(t *testing.T) {
			s := NewS3StoreFromClient(nil, "bucket", tt.prefix)
			if got := s.objectKey(tt.path); got != tt.want {
				t.Errorf("objectKey(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
