// Package auth registers users, checks passwords and issues the bearer
// credentials clients present on later requests.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/macaroon.v2"

	"fileflow/internal/config"
	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

const (
	location      = "fileflow"
	caveatUserID  = "user-id "
	caveatExpires = "expires "
)

// registration is validated before any store access.
type registration struct {
	Email    string `validate:"required,email"`
	Password string `validate:"min=6"`
	FullName string `validate:"required"`
}

// Service authenticates users. Credentials are macaroons bound to a user id
// and an expiry; nothing about issued credentials is stored server side.
type Service struct {
	store    fileflow.Store
	rootKey  []byte
	tokenTTL time.Duration
	cost     int
	users    *expirable.LRU[string, *model.User]
	validate *validator.Validate
	logger   fileflow.Logger
	clock    fileflow.Clock
	idgen    fileflow.IDGenerator

	// dummyHash is compared against when an email is unknown so both
	// failure paths take the same time.
	dummyHash []byte
}

// NewService creates a Service from the [auth] config section.
func NewService(store fileflow.Store, cfg config.AuthConfig, logger fileflow.Logger, clock fileflow.Clock, idgen fileflow.IDGenerator) (*Service, error) {
	if len(cfg.RootKey) < 32 {
		return nil, fmt.Errorf("auth root key must be at least 32 bytes: %w", fileflow.ErrValidation)
	}

	ttl := cfg.TokenTTL.Duration
	if ttl <= 0 {
		ttl = config.DefaultTokenTTL
	}
	cacheTTL := cfg.CacheTTL.Duration
	if cacheTTL <= 0 {
		cacheTTL = config.DefaultCacheTTL
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = config.DefaultCacheSize
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = config.DefaultBcryptCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("fileflow-placeholder"), cost)
	if err != nil {
		return nil, fmt.Errorf("preparing password hasher: %w", err)
	}

	return &Service{
		store:     store,
		rootKey:   []byte(cfg.RootKey),
		tokenTTL:  ttl,
		cost:      cost,
		users:     expirable.NewLRU[string, *model.User](cacheSize, nil, cacheTTL),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		dummyHash: dummy,
	}, nil
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user. Emails are unique case-insensitively.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*model.User, error) {
	req := registration{
		Email:    NormalizeEmail(email),
		Password: password,
		FullName: strings.TrimSpace(fullName),
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", describe(err), fileflow.ErrValidation)
	}

	existing, err := s.store.FindUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("user %s: %w", req.Email, fileflow.ErrAlreadyExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := fileflow.Timestamp(s.clock.Now())
	user := &model.User{
		ID:           s.idgen.New(),
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Authenticate checks an email and password and issues a credential.
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, string, error) {
	user, err := s.store.FindUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, "", fmt.Errorf("finding user: %w", err)
	}

	hash := s.dummyHash
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || user == nil {
		s.logger.Info("login failed")
		return nil, "", fileflow.ErrInvalidCredentials
	}

	credential, err := s.Issue(user)
	if err != nil {
		return nil, "", err
	}
	s.users.Add(user.ID, user)
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, credential, nil
}

// Issue mints a credential for user that expires after the configured TTL.
func (s *Service) Issue(user *model.User) (string, error) {
	m, err := macaroon.New(s.rootKey, []byte(s.idgen.New()), location, macaroon.LatestVersion)
	if err != nil {
		return "", fmt.Errorf("minting credential: %w", err)
	}

	expires := s.clock.Now().Add(s.tokenTTL).UTC().Format(time.RFC3339)
	for _, c := range []string{caveatUserID + user.ID, caveatExpires + expires} {
		if err := m.AddFirstPartyCaveat([]byte(c)); err != nil {
			return "", fmt.Errorf("adding caveat: %w", err)
		}
	}

	data, err := m.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encoding credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ResolveSession returns the user a credential was issued to. Malformed,
// tampered and expired credentials, and credentials for users that no
// longer exist, return ErrInvalidCredential.
func (s *Service) ResolveSession(ctx context.Context, credential string) (*model.User, error) {
	userID, err := s.verify(credential)
	if err != nil {
		s.logger.Debug("credential rejected", "error", err)
		return nil, fileflow.ErrInvalidCredential
	}

	if u, ok := s.users.Get(userID); ok {
		return u, nil
	}
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if user == nil {
		return nil, fileflow.ErrInvalidCredential
	}
	s.users.Add(user.ID, user)
	return user, nil
}

func (s *Service) verify(credential string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(credential))
	if err != nil {
		return "", fmt.Errorf("decoding: %w", err)
	}
	var m macaroon.Macaroon
	if err := m.UnmarshalBinary(data); err != nil {
		return "", fmt.Errorf("unmarshaling: %w", err)
	}

	var userID string
	now := s.clock.Now()
	check := func(caveat string) error {
		switch {
		case strings.HasPrefix(caveat, caveatUserID):
			id := strings.TrimPrefix(caveat, caveatUserID)
			if userID != "" && subtle.ConstantTimeCompare([]byte(id), []byte(userID)) != 1 {
				return errors.New("conflicting user-id caveats")
			}
			userID = id
			return nil
		case strings.HasPrefix(caveat, caveatExpires):
			t, err := time.Parse(time.RFC3339, strings.TrimPrefix(caveat, caveatExpires))
			if err != nil {
				return fmt.Errorf("bad expiry: %w", err)
			}
			if !now.Before(t) {
				return errors.New("credential expired")
			}
			return nil
		}
		return fmt.Errorf("unknown caveat %q", caveat)
	}
	if err := m.Verify(s.rootKey, check, nil); err != nil {
		return "", err
	}
	if !fileflow.ValidID(userID) {
		return "", errors.New("missing user-id caveat")
	}
	return userID, nil
}

// describe flattens validator errors into one message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "email":
			msgs = append(msgs, "invalid email address")
		case "min":
			msgs = append(msgs, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		}
	}
	return strings.Join(msgs, "; ")
}
