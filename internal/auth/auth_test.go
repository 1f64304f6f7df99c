package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/macaroon.v2"

	"fileflow/internal/config"
	"fileflow/internal/fileflow"
	"fileflow/internal/testutil"
)

const testRootKey = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) (*Service, *testutil.StubClock, fileflow.Store) {
	t.Helper()
	store := testutil.NewTestStore(t)
	clock := testutil.FixedClock()
	cfg := config.AuthConfig{RootKey: testRootKey, BcryptCost: bcrypt.MinCost}
	svc, err := NewService(store, cfg, fileflow.NewNopLogger(), clock, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, clock, store
}

func TestService_Register(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  Alice@Example.COM ", "secret1", " Alice ")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Email != "alice@example.com" || u.FullName != "Alice" {
		t.Errorf("Register() = %q %q, want normalized email and name", u.Email, u.FullName)
	}
	if u.PasswordHash == "secret1" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")) != nil {
		t.Error("PasswordHash is not a bcrypt hash of the password")
	}

	if _, err := svc.Register(ctx, "ALICE@example.com", "another1", "Alice Two"); !errors.Is(err, fileflow.ErrAlreadyExists) {
		t.Errorf("Register() duplicate error = %v, want ErrAlreadyExists", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name     string
		email    string
		password string
		fullName string
		wantMsg  string
	}{
		{"bad email", "not-an-email", "secret1", "A", "invalid email"},
		{"empty email", "", "secret1", "A", "email is required"},
		{"short password", "a@example.com", "12345", "A", "at least 6"},
		{"missing name", "a@example.com", "secret1", "  ", "fullname is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.email, tt.password, tt.fullName)
			if !errors.Is(err, fileflow.ErrValidation) {
				t.Fatalf("Register() error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Register() error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestService_Authenticate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "bob@example.com", "hunter22", "Bob")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	u, credential, err := svc.Authenticate(ctx, "BOB@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if u.ID != registered.ID || credential == "" {
		t.Errorf("Authenticate() = %s, %q", u.ID, credential)
	}

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "bob@example.com", "hunter23"},
		{"unknown email", "carol@example.com", "hunter22"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Authenticate(ctx, tt.email, tt.password)
			if !errors.Is(err, fileflow.ErrInvalidCredentials) {
				t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestService_ResolveSession(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	registered, _ := svc.Register(ctx, "dana@example.com", "password", "Dana")
	_, credential, err := svc.Authenticate(ctx, "dana@example.com", "password")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	u, err := svc.ResolveSession(ctx, credential)
	if err != nil {
		t.Fatalf("ResolveSession() error = %v", err)
	}
	if u.ID != registered.ID {
		t.Errorf("ResolveSession() user = %s, want %s", u.ID, registered.ID)
	}

	clock.Advance(config.DefaultTokenTTL - time.Minute)
	if _, err := svc.ResolveSession(ctx, credential); err != nil {
		t.Errorf("ResolveSession() before expiry error = %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := svc.ResolveSession(ctx, credential); !errors.Is(err, fileflow.ErrInvalidCredential) {
		t.Errorf("ResolveSession() at expiry error = %v, want ErrInvalidCredential", err)
	}
}

func TestService_ResolveSessionRejects(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, _ := svc.Register(ctx, "erin@example.com", "password", "Erin")
	credential, err := svc.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other, err := NewService(testutil.NewTestStore(t), config.AuthConfig{
		RootKey: strings.Repeat("z", 32), BcryptCost: bcrypt.MinCost,
	}, fileflow.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	foreign, _ := other.Issue(user)

	tests := []struct {
		name       string
		credential string
	}{
		{"empty", ""},
		{"not base64", "!!!"},
		{"not a macaroon", base64.RawURLEncoding.EncodeToString([]byte("hello"))},
		{"truncated", credential[:len(credential)/2]},
		{"wrong root key", foreign},
		{"extra user caveat", addCaveat(t, credential, "user-id "+testutil.StubID(77))},
		{"unknown caveat", addCaveat(t, credential, "admin true")},
		{"unknown user", mustIssueFor(t, svc, testutil.StubID(500))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ResolveSession(ctx, tt.credential); !errors.Is(err, fileflow.ErrInvalidCredential) {
				t.Errorf("ResolveSession() error = %v, want ErrInvalidCredential", err)
			}
		})
	}

	// Attenuating with a later expiry does not extend the credential, and
	// an otherwise valid one still resolves.
	extended := addCaveat(t, credential, "expires 2099-01-01T00:00:00Z")
	if _, err := svc.ResolveSession(ctx, extended); err != nil {
		t.Errorf("ResolveSession() with added expiry error = %v", err)
	}
}

func TestNewService_RejectsShortRootKey(t *testing.T) {
	_, err := NewService(testutil.NewTestStore(t), config.AuthConfig{RootKey: "short"}, fileflow.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	if !errors.Is(err, fileflow.ErrValidation) {
		t.Errorf("NewService() error = %v, want ErrValidation", err)
	}
}

func addCaveat(t *testing.T, credential, caveat string) string {
	t.Helper()
	data, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var m macaroon.Macaroon
	if err := m.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if err := m.AddFirstPartyCaveat([]byte(caveat)); err != nil {
		t.Fatalf("AddFirstPartyCaveat() error = %v", err)
	}
	out, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(out)
}

func mustIssueFor(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	u, _ := svc.Register(context.Background(), "ghost-"+userID[len(userID)-3:]+"@example.com", "password", "Ghost")
	u.ID = userID
	credential, err := svc.Issue(u)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return credential
}
