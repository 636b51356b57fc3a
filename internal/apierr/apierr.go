// Package apierr defines the stable error-kind taxonomy shared by every
// core component (spec §7). Callers compare kinds with errors.Is against
// the sentinel Kind values, never by string matching Error().
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	KindConfig           Kind = "CONFIG_ERROR"
	KindInvalidCreds      Kind = "INVALID_CREDENTIALS"
	KindAccountLocked     Kind = "ACCOUNT_LOCKED"
	KindSessionExpired    Kind = "SESSION_EXPIRED"
	KindTokenInvalid      Kind = "TOKEN_INVALID"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindNotFound          Kind = "NOT_FOUND"
	KindCorrupt           Kind = "CORRUPT"
	KindTransient         Kind = "TRANSIENT"
	KindCircuitOpen       Kind = "CIRCUIT_OPEN"
	KindRetryExhausted    Kind = "RETRY_EXHAUSTED"
	KindGenerationFailed  Kind = "GENERATION_FAILED"
)

// Error is the concrete error type carried across package boundaries.
// Details must never contain secrets, passwords, or raw tokens.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, apierr.New(KindNotFound, "")) works
// as a sentinel comparison regardless of message/details.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinel instances for errors.Is comparisons where no message is needed.
var (
	ErrNotFound         = New(KindNotFound, "not found", nil)
	ErrInvalidCreds     = New(KindInvalidCreds, "invalid credentials", nil)
	ErrAccountLocked    = New(KindAccountLocked, "account locked", nil)
	ErrSessionExpired   = New(KindSessionExpired, "session expired", nil)
	ErrTokenInvalid     = New(KindTokenInvalid, "token invalid", nil)
	ErrRateLimited      = New(KindRateLimited, "rate limited", nil)
	ErrPermissionDenied = New(KindPermissionDenied, "permission denied", nil)
	ErrCorrupt          = New(KindCorrupt, "corrupt data", nil)
	ErrCircuitOpen      = New(KindCircuitOpen, "circuit open", nil)
	ErrGenerationFailed = New(KindGenerationFailed, "generation failed", nil)
)

// Is reports whether kind matches an *Error's Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
