// Package errors defines the typed errors shared across the OAuth core.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// TypeInvalidState is returned when a callback state parameter does not
	// match any stored session. Treated as a security event (possible CSRF
	// or replay).
	TypeInvalidState = "invalid_state"

	// TypeTokenExchangeFailed is returned when the upstream token endpoint
	// rejected the authorization code or refresh token.
	TypeTokenExchangeFailed = "token_exchange_failed"

	// TypeDecryptionFailed is returned for any decryption failure. The cause
	// (bad key, truncated input, tag mismatch) is deliberately not exposed.
	TypeDecryptionFailed = "decryption_failed"

	// TypeStorageFailed is returned when a store write fails, typically due
	// to backend unavailability.
	TypeStorageFailed = "storage_failed"

	// TypeInvalidKeyLength is returned when an encryption key is not exactly
	// 256 bits.
	TypeInvalidKeyLength = "invalid_key_length"

	// TypeInvalidInput is returned for programmer errors detected at call time.
	TypeInvalidInput = "invalid_input"

	// TypeInvalidClientMetadata is returned for RFC 7591 registration
	// validation failures.
	TypeInvalidClientMetadata = "invalid_client_metadata"

	// TypeRefreshNotSupported is returned when a provider opts out of token
	// refresh.
	TypeRefreshNotSupported = "refresh_not_supported"
)

// Error represents an error in the OAuth core.
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Type. This lets call
// sites use errors.Is with the sentinel constructors below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Type == t.Type
}

// NewError creates a new error.
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidState creates a new invalid state error.
func NewInvalidState(message string) *Error {
	return NewError(TypeInvalidState, message, nil)
}

// NewTokenExchangeFailed creates a new token exchange error.
func NewTokenExchangeFailed(message string, cause error) *Error {
	return NewError(TypeTokenExchangeFailed, message, cause)
}

// NewDecryptionFailed creates a new decryption error. No cause is attached
// so that callers cannot distinguish failure modes.
func NewDecryptionFailed() *Error {
	return NewError(TypeDecryptionFailed, "decryption failed", nil)
}

// NewStorageFailed creates a new storage error.
func NewStorageFailed(message string, cause error) *Error {
	return NewError(TypeStorageFailed, message, cause)
}

// NewInvalidKeyLength creates a new key length error.
func NewInvalidKeyLength(gotBytes int) *Error {
	return NewError(TypeInvalidKeyLength, fmt.Sprintf("encryption key must be 32 bytes, got %d", gotBytes), nil)
}

// NewInvalidInput creates a new invalid input error.
func NewInvalidInput(message string) *Error {
	return NewError(TypeInvalidInput, message, nil)
}

// NewInvalidClientMetadata creates a new RFC 7591 client metadata error.
func NewInvalidClientMetadata(message string) *Error {
	return NewError(TypeInvalidClientMetadata, message, nil)
}

// NewRefreshNotSupported creates a new refresh-not-supported error.
func NewRefreshNotSupported(provider string) *Error {
	return NewError(TypeRefreshNotSupported, fmt.Sprintf("provider %q does not support token refresh", provider), nil)
}

// IsType reports whether err is an *Error with the given type.
func IsType(err error, errorType string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errorType
}
