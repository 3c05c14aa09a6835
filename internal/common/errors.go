// Package common defines shared constants and sentinel errors used across
// client and server layers of hostauth. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")

	// Validation errors.
	ErrMissingInput = errors.New("missing input")

	// Login errors. Unknown user and wrong password are deliberately the same value.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// Refresh token errors. ErrInvalidToken is what a store reports when a
	// rotation precondition fails; ErrInvalidOrExpiredToken is what callers
	// of the session service see for every unusable refresh token.
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired refresh token")
)
