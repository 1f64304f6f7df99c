package database

import (
	"context"
	"path/filepath"
	"testing"

	"fileflow/internal/config"
	"fileflow/internal/database/collection"
	"fileflow/internal/fileflow"
)

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.DatabaseConfig
		wantErr    bool
		wantAtomic bool
	}{
		{"memory database", config.DatabaseConfig{Type: "memory"}, false, true},
		{"sqlite database", config.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "ff.db")}, false, true},
		{"sqlite database without path", config.DatabaseConfig{Type: "sqlite"}, true, false},
		{"memory collection", config.DatabaseConfig{Type: "collection", Backend: "memory"}, false, false},
		{"file collection", config.DatabaseConfig{Type: "collection", Backend: "file", Dir: t.TempDir()}, false, false},
		{"file collection without dir", config.DatabaseConfig{Type: "collection", Backend: "file"}, true, false},
		{"in-memory badger collection", config.DatabaseConfig{Type: "collection", Backend: "badger"}, false, false},
		{"unknown collection backend", config.DatabaseConfig{Type: "collection", Backend: "redis"}, true, false},
		{"postgres without dsn", config.DatabaseConfig{Type: "postgres"}, true, false},
		{"mongodb without name", config.DatabaseConfig{Type: "mongodb", URL: "localhost"}, true, false},
		{"unknown database type", config.DatabaseConfig{Type: "unknown"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(context.Background(), tt.cfg, fileflow.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Error("NewStoreFromConfig() should return nil on error")
					got.Close()
				}
				return
			}
			defer got.Close()

			if _, ok := got.(fileflow.AtomicStore); ok != tt.wantAtomic {
				t.Errorf("store is AtomicStore = %v, want %v", ok, tt.wantAtomic)
			}
			if tt.cfg.Type == "collection" {
				if _, ok := got.(*collection.Store); !ok {
					t.Errorf("store type = %T, want *collection.Store", got)
				}
			}
		})
	}
}
