package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testRootKey = "0123456789abcdef0123456789abcdef"

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/fileflow", testRootKey)
	original.Blob = BlobConfig{Type: "s3", S3Bucket: "files", S3Region: "eu-west-1", S3Endpoint: "http://localhost:9000"}
	original.Database = DatabaseConfig{Type: "collection", Backend: "badger", Dir: "/var/lib/fileflow"}
	original.Server.CORSOrigins = []string{"http://localhost:3000"}
	original.Auth.TokenTTL = Duration{48 * time.Hour}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `token_ttl = "48h0m0s"`) {
		t.Errorf("encoded config missing readable token_ttl:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Database.Backend != "badger" {
		t.Errorf("Database.Backend = %q, want %q", got.Database.Backend, "badger")
	}
	if got.Blob.S3Endpoint != "http://localhost:9000" {
		t.Errorf("Blob.S3Endpoint = %q, want %q", got.Blob.S3Endpoint, "http://localhost:9000")
	}
	if got.Auth.TokenTTL.Duration != 48*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", got.Auth.TokenTTL.Duration, 48*time.Hour)
	}
	if got.Auth.CacheTTL.Duration != DefaultCacheTTL {
		t.Errorf("Auth.CacheTTL = %v, want %v", got.Auth.CacheTTL.Duration, DefaultCacheTTL)
	}
	if len(got.Server.CORSOrigins) != 1 {
		t.Fatalf("len(Server.CORSOrigins) = %d, want 1", len(got.Server.CORSOrigins))
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/fileflow", testRootKey)

	if cfg.LogDir != "/data/fileflow/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/fileflow/log")
	}
	if cfg.Database.Path != "/data/fileflow/fileflow.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/data/fileflow/fileflow.db")
	}
	if cfg.Encryption.PrivateKeyPath != "/data/fileflow/keys/fileflow.key" {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", cfg.Encryption.PrivateKeyPath, "/data/fileflow/keys/fileflow.key")
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Errorf("Auth.BcryptCost = %d, want 12", cfg.Auth.BcryptCost)
	}
	if cfg.Auth.TokenTTL.Duration != 7*24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 168h", cfg.Auth.TokenTTL.Duration)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"unknown database type", func(c *Config) { c.Database.Type = "oracle" }, "Database.Type"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "Database.Path"},
		{"collection without backend", func(c *Config) { c.Database = DatabaseConfig{Type: "collection"} }, "Database.Backend"},
		{"collection with unknown backend", func(c *Config) { c.Database = DatabaseConfig{Type: "collection", Backend: "redis"} }, "Database.Backend"},
		{"postgres without dsn", func(c *Config) { c.Database = DatabaseConfig{Type: "postgres"} }, "Database.DSN"},
		{"mongodb without name", func(c *Config) { c.Database = DatabaseConfig{Type: "mongodb", URL: "localhost"} }, "Database.Name"},
		{"s3 without bucket", func(c *Config) { c.Blob = BlobConfig{Type: "s3"} }, "Blob.S3Bucket"},
		{"access key without secret", func(c *Config) {
			c.Blob = BlobConfig{Type: "s3", S3Bucket: "b", S3AccessKeyID: "AKIA"}
		}, "Blob.S3SecretAccessKey"},
		{"short root key", func(c *Config) { c.Auth.RootKey = "short" }, "Auth.RootKey"},
		{"bcrypt cost out of range", func(c *Config) { c.Auth.BcryptCost = 40 }, "Auth.BcryptCost"},
		{"bad server addr", func(c *Config) { c.Server.Addr = "nope" }, "Server.Addr"},
		{"filesystem staging without dir", func(c *Config) { c.Staging.Type = "filesystem" }, "Staging.StagingDir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data/fileflow", testRootKey)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fileflow.toml")

		if err := Init(path, NewConfig(dir, testRootKey)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fileflow.toml")
		cfg := NewConfig(dir, testRootKey)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fileflow.toml")

		if err := Init(path, NewConfig(dir, "")); err == nil {
			t.Fatal("Init() expected error for missing root key")
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("config file written despite validation failure")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fileflow.toml")
		cfg := NewConfig(dir, testRootKey)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
		if got.Auth.RootKey != testRootKey {
			t.Errorf("Auth.RootKey = %q, want %q", got.Auth.RootKey, testRootKey)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/fileflow.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
