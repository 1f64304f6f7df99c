package fileflow

import "errors"

var (
	// ErrNotFound is returned by mutations that reference a missing record.
	// Read paths return nil instead.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when registering a duplicate email.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials is returned for any failed sign-in. It does not
	// say whether the user exists.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidCredential is returned when a credential is malformed,
	// tampered with, or expired.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrValidation marks input rejected before reaching a store.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable marks a backing medium that could not be written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrForbidden is returned when a user acts on a file they do not own.
	ErrForbidden = errors.New("forbidden")
)
