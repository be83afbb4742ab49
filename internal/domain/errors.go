package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Session errors
	ErrTokenMissing = errors.New("no auth token available")
	ErrTokenInvalid = errors.New("invalid or expired token")

	// Transport errors
	ErrNotConnected = errors.New("not connected")
	ErrUnreachable  = errors.New("server unreachable, retries exhausted")

	// REST errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Composer errors
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrNotPermitted = errors.New("not permitted to delete this message")
)
