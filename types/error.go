package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the memory subsystem.
type ErrorCode string

// Memory error codes
const (
	// ErrNotFound means the referenced conversation or item is absent from the target store.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrUnavailable means the durable backend is unreachable or failing.
	ErrUnavailable ErrorCode = "UNAVAILABLE"
	// ErrAccessDenied means the access policy rejected the operation.
	ErrAccessDenied ErrorCode = "ACCESS_DENIED"
	// ErrDecryptionFailed is raised inside the secure decorator and never returned to callers.
	ErrDecryptionFailed ErrorCode = "DECRYPTION_FAILED"
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Resource  string    `json:"resource,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithResource records the conversation id or item key the error refers to.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// NotFoundError builds a NOT_FOUND error for a conversation id or item key.
func NotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %q not found", kind, id)).WithResource(id)
}

// UnavailableError wraps a backend failure. Unavailable errors are always retryable.
func UnavailableError(op string, cause error) *Error {
	return NewError(ErrUnavailable, op+" failed").WithCause(cause).WithRetryable(true)
}

// AccessDeniedError builds an ACCESS_DENIED error for an operation on a resource.
func AccessDeniedError(op, resource string) *Error {
	return NewError(ErrAccessDenied, fmt.Sprintf("access denied for %s", op)).WithResource(resource)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool { return GetErrorCode(err) == ErrNotFound }

// IsUnavailable reports whether err carries ErrUnavailable.
func IsUnavailable(err error) bool { return GetErrorCode(err) == ErrUnavailable }

// IsAccessDenied reports whether err carries ErrAccessDenied.
func IsAccessDenied(err error) bool { return GetErrorCode(err) == ErrAccessDenied }
