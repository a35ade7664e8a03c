// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")
)

// Domain errors surfaced to API callers with a machine-readable code.
var (
	// ErrUnauthenticated is returned by login when no identity claim was produced.
	ErrUnauthenticated = &CodedError{Message: "Unauthenticated", Code: "unauthenticated"}

	// ErrNotExist is returned by login for deactivated accounts.
	ErrNotExist = &CodedError{Message: "Not exist", Code: "not_exist"}
)
