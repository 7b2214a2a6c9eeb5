// Package errors provides standardized domain errors that express business intent
// rather than infrastructure details. These errors should be used by the vault
// core and mapped to appropriate HTTP status codes by the handler layer.
package errors

import (
	"errors"
	"fmt"
)

// Standard domain errors used across the vault core.
var (
	// ErrNotFound indicates the requested key does not exist, has expired, or
	// was burned.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a generic conflict with existing data.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyExists indicates a put on a key that is already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the request body is malformed or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates an operation is not valid for the record's
	// current policy or lifecycle state (e.g. patch on a non-Seal record).
	ErrInvalidState = errors.New("invalid state")

	// ErrSealed indicates the key exists but reads are blocked by policy Seal.
	ErrSealed = errors.New("sealed")

	// ErrQuotaExceeded indicates admission was rejected by the license gate.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnauthorized indicates the request lacks a valid bearer token on a
	// gated endpoint.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but not permitted.
	ErrForbidden = errors.New("forbidden")

	// ErrLocked indicates a resource is temporarily locked against mutation.
	ErrLocked = errors.New("locked")

	// ErrAuthFailure indicates an AEAD tag verification failure: corruption or
	// a master-key mismatch. Never converted to ErrNotFound.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrInternal indicates a storage or encoding failure with no more
	// specific classification.
	ErrInternal = errors.New("internal error")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message while preserving the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
