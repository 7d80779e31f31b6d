// Package errs provides the unified error type used across all of OpenBucket.
//
// Every subsystem (api client, filestore drivers, server, session store, …)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to branch on the kind of failure without
// importing SDK-specific packages or inspecting HTTP status codes.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "list objects timed out", err)
//
//	// In a caller, check the error kind:
//	if errs.IsNotFound(err) {
//	    return app.ErrNavigateBack
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// Storage SDKs, the HTTP transport and the backend envelope all map onto one
// of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no object, no bucket, no session
	ErrKindConnectionFailed         // cannot reach the storage backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // storage operation error
	ErrKindInvalidInput             // validation failure, caught before any request
	ErrKindPermissionDenied         // access denied / auth failure
	ErrKindRequestFailed            // transport failure talking to the API
	ErrKindServer                   // well-formed error envelope from the API
)

// RequestFailedCode is the error_code reported for transport failures.
const RequestFailedCode = -1

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindRequestFailed:
		return "request_failed"
	case ErrKindServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of ErrKind.String. Unrecognised names map to
// ErrKindServer, since they can only come from a backend envelope.
func ParseKind(s string) ErrKind {
	switch s {
	case "not_found":
		return ErrKindNotFound
	case "connection_failed":
		return ErrKindConnectionFailed
	case "timeout":
		return ErrKindTimeout
	case "query_failed":
		return ErrKindQueryFailed
	case "invalid_input":
		return ErrKindInvalidInput
	case "permission_denied":
		return ErrKindPermissionDenied
	case "request_failed":
		return ErrKindRequestFailed
	default:
		return ErrKindServer
	}
}

// Error is the single error type returned by all OpenBucket subsystems.
// Drivers and the API client produce it; callers inspect it via the Is*
// predicates below.
type Error struct {
	Kind    ErrKind
	Message string

	// Code is the numeric error_code of the API envelope. RequestFailedCode
	// for transport failures, 0 when the backend did not send one.
	Code int

	// Status is the HTTP status the error arrived with, 0 if none.
	Status int

	Cause error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Invalid creates a validation error. Validation errors never carry a cause:
// they are raised before any I/O happens.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: ErrKindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// RequestFailed wraps a transport-level failure (dial, TLS, timeout, …).
func RequestFailed(msg string, cause error) *Error {
	return &Error{Kind: ErrKindRequestFailed, Message: msg, Code: RequestFailedCode, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (missing object, unknown bucket, …).
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity failure towards storage.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a storage operation failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return kindOf(err) == ErrKindPermissionDenied
}

// IsRequestFailed reports whether err is a transport failure talking to the API.
func IsRequestFailed(err error) bool {
	return kindOf(err) == ErrKindRequestFailed
}

// IsServer reports whether err is an error envelope reported by the API.
func IsServer(err error) bool {
	return kindOf(err) == ErrKindServer
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

// MessageOf returns the user-facing message of err: the Message of the
// first *Error in the chain, or err.Error() for foreign errors.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
