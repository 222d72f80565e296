package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Configuration error codes. Fatal at startup.
const (
	ErrConfiguration   ErrorCode = "CONFIGURATION"
	ErrToolLoader      ErrorCode = "TOOL_LOADER"
	ErrUnknownProvider ErrorCode = "UNKNOWN_PROVIDER"
	ErrMissingEnv      ErrorCode = "MISSING_ENV"
)

// Storage error codes.
const (
	ErrStorage            ErrorCode = "STORAGE"
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// Planner / executor error codes.
const (
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrParsing           ErrorCode = "PARSING"
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrUpstreamLLM       ErrorCode = "UPSTREAM_LLM"
)

// Tool error codes. These never escape a tool invocation surface; they are
// carried in the structured result instead.
const (
	ErrToolInvocation ErrorCode = "TOOL_INVOCATION"
	ErrToolTimeout    ErrorCode = "TOOL_TIMEOUT"
	ErrToolValidation ErrorCode = "TOOL_VALIDATION"
)

// Execution tracker error codes.
const (
	ErrExecutionNotFound ErrorCode = "EXECUTION_NOT_FOUND"
	ErrExecutionTerminal ErrorCode = "EXECUTION_TERMINAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Path      string    `json:"path,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Path != "" {
		prefix += " " + e.Path + ":"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps cause with a code and message.
func WrapError(cause error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
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

// WithPath records the offending config path.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
