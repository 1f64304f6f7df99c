package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"fileflow/internal/config"
	"fileflow/internal/fileflow"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "fileflow.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "fileflow.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()

	t.Run("writes both keys", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if e.IsConfigured() {
			t.Fatal("IsConfigured() = true before Setup, want false")
		}
		if err := e.Setup("test-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if !e.IsConfigured() {
			t.Error("IsConfigured() = false after Setup, want true")
		}
		pub, err := e.PublicKey()
		if err != nil {
			t.Fatalf("PublicKey() error = %v", err)
		}
		if !strings.HasPrefix(pub, "age1") {
			t.Errorf("PublicKey() = %q, want age1 prefix", pub)
		}
	})

	t.Run("refuses to replace existing keys", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup("first"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if err := e.Setup("second"); !errors.Is(err, fileflow.ErrAlreadyExists) {
			t.Errorf("second Setup() error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("requires passphrase", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup(""); !errors.Is(err, fileflow.ErrValidation) {
			t.Errorf("Setup(\"\") error = %v, want ErrValidation", err)
		}
	})
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestAgeEncryptor(t)
			if err := e.Setup("test-passphrase"); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			var ciphertext bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &ciphertext); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(ciphertext.Bytes(), tt.input) {
				t.Error("ciphertext contains plaintext")
			}

			// A fresh encryptor reads the public key from disk.
			reloaded := NewAgeEncryptor(config.EncryptionConfig{
				PublicKeyPath: e.publicKeyPath, PrivateKeyPath: e.privateKeyPath,
			})
			dec, err := reloaded.Unlock("test-passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}

			var plaintext bytes.Buffer
			if err := dec.Decrypt(&ciphertext, &plaintext); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plaintext.Bytes(), tt.input) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", plaintext.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup("correct"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	_, err := e.Unlock("wrong")
	if !errors.Is(err, fileflow.ErrInvalidCredentials) {
		t.Errorf("Unlock() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAgeEncryptor_BeforeSetup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	if err := e.Encrypt(strings.NewReader("data"), &bytes.Buffer{}); err == nil {
		t.Error("Encrypt() expected error before Setup")
	}
	if _, err := e.Unlock("any"); err == nil {
		t.Error("Unlock() expected error before Setup")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantErr bool
	}{
		{"default is age", config.EncryptionConfig{PublicKeyPath: "/k.pub", PrivateKeyPath: "/k.key"}, false},
		{"age without paths", config.EncryptionConfig{Type: "age"}, true},
		{"test", config.EncryptionConfig{Type: "test"}, false},
		{"unknown", config.EncryptionConfig{Type: "rot13"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewEncryptorFromConfig() returned nil")
			}
		})
	}
}
