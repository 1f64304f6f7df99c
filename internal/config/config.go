package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for fileflow.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	Database   DatabaseConfig   `toml:"database"`
	Blob       BlobConfig       `toml:"blob"`
	Encryption EncryptionConfig `toml:"encryption"`
	Auth       AuthConfig       `toml:"auth"`
	Server     ServerConfig     `toml:"server"`
	Staging    StagingConfig    `toml:"staging"`
}

// DatabaseConfig represents configuration for the metadata store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory sqlite collection postgres mongodb"`

	// sqlite
	Path string `toml:"path,omitempty" validate:"required_if=Type sqlite"`

	// collection: "memory", "file" or "badger"; Dir is used by file and badger
	Backend string `toml:"backend,omitempty" validate:"required_if=Type collection,omitempty,oneof=memory file badger"`
	Dir     string `toml:"dir,omitempty"`

	// postgres
	DSN string `toml:"dsn,omitempty" validate:"required_if=Type postgres"`

	// mongodb
	URL  string `toml:"url,omitempty" validate:"required_if=Type mongodb"`
	Name string `toml:"name,omitempty" validate:"required_if=Type mongodb"`
}

// BlobConfig represents configuration for the version content store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory filesystem s3"`

	// filesystem
	Root string `toml:"root,omitempty" validate:"required_if=Type filesystem"`

	// s3
	S3Bucket          string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" validate:"required_with=S3AccessKeyID"`
}

// EncryptionConfig holds paths to the age key pair used for encrypted files.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age test"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// AuthConfig configures credential issuance and password hashing.
type AuthConfig struct {
	RootKey    string   `toml:"root_key" validate:"required,min=32"`
	TokenTTL   Duration `toml:"token_ttl"`
	CacheTTL   Duration `toml:"cache_ttl"`
	CacheSize  int      `toml:"cache_size" validate:"gte=0"`
	BcryptCost int      `toml:"bcrypt_cost" validate:"omitempty,min=4,max=31"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `toml:"addr" validate:"omitempty,hostname_port"`
	CORSOrigins []string `toml:"cors_origins,omitempty" validate:"dive,required"`
}

// StagingConfig represents configuration for the upload spool.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type" validate:"required,oneof=memory filesystem"`
	StagingDir string `toml:"staging_dir,omitempty" validate:"required_if=Type filesystem"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size" validate:"gte=0"`                                    // max upload size in bytes; 0 means the default
}

// Duration is a time.Duration written as a string ("168h") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults applied by NewConfig.
const (
	DefaultTokenTTL   = 7 * 24 * time.Hour
	DefaultCacheTTL   = 5 * time.Minute
	DefaultCacheSize  = 1024
	DefaultBcryptCost = 12
	DefaultAddr       = "127.0.0.1:8080"
	DefaultMaxUpload  = 64 << 20
)

// NewConfig creates a new Config rooted at baseDir with local defaults:
// a SQLite database, a filesystem blob store and age key paths under baseDir.
func NewConfig(baseDir, rootKey string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "fileflow.db"),
		},
		Blob: BlobConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "blobs"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "fileflow.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "fileflow.key"),
		},
		Auth: AuthConfig{
			RootKey:    rootKey,
			TokenTTL:   Duration{DefaultTokenTTL},
			CacheTTL:   Duration{DefaultCacheTTL},
			CacheSize:  DefaultCacheSize,
			BcryptCost: DefaultBcryptCost,
		},
		Server: ServerConfig{Addr: DefaultAddr},
		Staging: StagingConfig{
			Type:    "memory",
			MaxSize: DefaultMaxUpload,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file holds the credential root key.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
