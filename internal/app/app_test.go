package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fileflow/internal/config"
	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

func newTestApp(t *testing.T) *FileFlowApp {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig(dir, "0123456789abcdef0123456789abcdef")
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Blob = config.BlobConfig{Type: "memory"}
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	cfg.Auth.BcryptCost = 4

	a, err := NewFileFlowApp(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("NewFileFlowApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func register(t *testing.T, a *FileFlowApp, email string) *model.User {
	t.Helper()
	u, err := a.Register(context.Background(), email, "password", "Test User")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return u
}

func TestFileFlowApp_LoginAndSession(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "alice@example.com")

	_, credential, err := a.Login(ctx, "Alice@Example.com", "password")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	u, err := a.Session(ctx, credential)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if u.ID != alice.ID {
		t.Errorf("Session() user = %s, want %s", u.ID, alice.ID)
	}
}

func TestFileFlowApp_UploadDetectsType(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "alice@example.com")

	f, err := a.Upload(ctx, alice, "scan", strings.NewReader("%PDF-1.4\n..."), UploadOptions{Tags: []string{"scans"}})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if f.Type != "application/pdf" {
		t.Errorf("Type = %q, want application/pdf", f.Type)
	}
	if f.Size != 12 {
		t.Errorf("Size = %d, want 12", f.Size)
	}
	if a.staging.Count() != 0 {
		t.Errorf("staging Count = %d after upload, want 0", a.staging.Count())
	}
}

func TestFileFlowApp_UploadPath(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "alice@example.com")

	dir := t.TempDir()
	for name, content := range map[string]string{"a.txt": "alpha", "b.txt": "bravo"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	files, err := a.UploadPath(ctx, alice, dir, false, UploadOptions{})
	if err != nil {
		t.Fatalf("UploadPath() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("UploadPath() created %d files, want 2", len(files))
	}

	var buf bytes.Buffer
	if _, err := a.Download(ctx, alice, files[0].ID, 0, nil, &buf); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if got := buf.String(); got != "alpha" && got != "bravo" {
		t.Errorf("Download() = %q", got)
	}
}

func TestFileFlowApp_Permissions(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	owner := register(t, a, "owner@example.com")
	collab := register(t, a, "collab@example.com")
	stranger := register(t, a, "stranger@example.com")

	f, err := a.Upload(ctx, owner, "plan.txt", strings.NewReader("v1"), UploadOptions{})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, err := a.Share(ctx, owner, f.ID, collab.ID); err != nil {
		t.Fatalf("Share() error = %v", err)
	}

	// Collaborators read, favorite and commit.
	if _, err := a.File(ctx, collab, f.ID); err != nil {
		t.Errorf("File() as collaborator error = %v", err)
	}
	if _, err := a.ToggleFavorite(ctx, collab, f.ID); err != nil {
		t.Errorf("ToggleFavorite() as collaborator error = %v", err)
	}
	v, err := a.Commit(ctx, collab, f.ID, strings.NewReader("v2"), "collab edit")
	if err != nil {
		t.Fatalf("Commit() as collaborator error = %v", err)
	}
	if v.Number != 2 || v.CreatedBy != collab.ID {
		t.Errorf("Commit() = v%d by %s", v.Number, v.CreatedBy)
	}

	// Only the owner manages.
	if _, err := a.Share(ctx, collab, f.ID, stranger.ID); !errors.Is(err, fileflow.ErrForbidden) {
		t.Errorf("Share() as collaborator error = %v, want ErrForbidden", err)
	}
	if _, err := a.Delete(ctx, collab, []string{f.ID}); !errors.Is(err, fileflow.ErrForbidden) {
		t.Errorf("Delete() as collaborator error = %v, want ErrForbidden", err)
	}

	// Strangers see nothing.
	if _, err := a.File(ctx, stranger, f.ID); !errors.Is(err, fileflow.ErrNotFound) {
		t.Errorf("File() as stranger error = %v, want ErrNotFound", err)
	}
	if _, err := a.Versions(ctx, stranger, f.ID); !errors.Is(err, fileflow.ErrNotFound) {
		t.Errorf("Versions() as stranger error = %v, want ErrNotFound", err)
	}
	if n, err := a.Delete(ctx, stranger, []string{f.ID}); err != nil || n != 0 {
		t.Errorf("Delete() as stranger = %d, %v; want 0, nil", n, err)
	}

	if _, err := a.Share(ctx, owner, f.ID, "00000000-0000-0000-0000-000000000999"); !errors.Is(err, fileflow.ErrNotFound) {
		t.Errorf("Share() with unknown user error = %v, want ErrNotFound", err)
	}

	n, err := a.Delete(ctx, owner, []string{f.ID, f.ID, "junk"})
	if err != nil || n != 1 {
		t.Errorf("Delete() as owner = %d, %v; want 1, nil", n, err)
	}
}

func TestFileFlowApp_EncryptedDownload(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "alice@example.com")

	if err := a.InitEncryption("correct horse"); err != nil {
		t.Fatalf("InitEncryption() error = %v", err)
	}
	f, err := a.Upload(ctx, alice, "diary.txt", strings.NewReader("dear diary"), UploadOptions{Encrypted: true})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	var buf bytes.Buffer
	if _, err := a.Download(ctx, alice, f.ID, 0, nil, &buf); !errors.Is(err, fileflow.ErrValidation) {
		t.Errorf("Download() without passphrase error = %v, want ErrValidation", err)
	}

	wrong := func() (string, error) { return "battery staple", nil }
	if _, err := a.Download(ctx, alice, f.ID, 0, wrong, &buf); !errors.Is(err, fileflow.ErrInvalidCredentials) {
		t.Errorf("Download() wrong passphrase error = %v, want ErrInvalidCredentials", err)
	}

	right := func() (string, error) { return "correct horse", nil }
	buf.Reset()
	if _, err := a.Download(ctx, alice, f.ID, 1, right, &buf); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if buf.String() != "dear diary" {
		t.Errorf("Download() = %q, want %q", buf.String(), "dear diary")
	}
}

func TestNewFileFlowApp_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig(t.TempDir(), "too short")
	if _, err := NewFileFlowApp(context.Background(), cfg, "test"); err == nil {
		t.Fatal("NewFileFlowApp() expected error for invalid config")
	}
}
