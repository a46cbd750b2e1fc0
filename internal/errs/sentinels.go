// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (bad credentials, missing or invalid session).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller lacks access to the entity.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrExpired indicates a share grant whose expiry has passed.
	ErrExpired = errors.New("expired")

	// ErrTooLarge indicates an upload above the configured size limit.
	ErrTooLarge = errors.New("too large")

	// ErrValidation matches any *ValidationError via errors.Is.
	ErrValidation = errors.New("validation")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field string
	Msg   string
}

// Validation builds a *ValidationError.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RateLimitedError is ErrRateLimited with the time left until the block lifts.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// RateLimited builds a *RateLimitedError. A zero retryAfter means unknown.
func RateLimited(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) true for any RateLimitedError.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
