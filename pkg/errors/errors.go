package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown       ErrorCode = "UNKNOWN"
	ErrInternal      ErrorCode = "INTERNAL"
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrNotConfigured ErrorCode = "NOT_CONFIGURED"

	// Sync errors
	ErrMissingSource  ErrorCode = "MISSING_SOURCE"
	ErrUnsafePath     ErrorCode = "UNSAFE_PATH"
	ErrAlreadySynced  ErrorCode = "ALREADY_SYNCED"
	ErrNotSynced      ErrorCode = "NOT_SYNCED"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrTargetOccupied ErrorCode = "TARGET_OCCUPIED"

	// Store errors
	ErrMalformedStore ErrorCode = "MALFORMED_STORE"

	// Profile errors
	ErrProfileNotFound    ErrorCode = "PROFILE_NOT_FOUND"
	ErrProfileExists      ErrorCode = "PROFILE_EXISTS"
	ErrInvalidProfileName ErrorCode = "INVALID_PROFILE_NAME"
	ErrCannotDeleteActive ErrorCode = "CANNOT_DELETE_ACTIVE"

	// Package errors
	ErrPackageInvalid ErrorCode = "PACKAGE_INVALID"
	ErrPackageProbe   ErrorCode = "PACKAGE_PROBE"

	// Collaborator errors
	ErrVcs          ErrorCode = "VCS"
	ErrRepoProvider ErrorCode = "REPO_PROVIDER"

	// FileSystem errors
	ErrFileNotFound  ErrorCode = "FILE_NOT_FOUND"
	ErrFileAccess    ErrorCode = "FILE_ACCESS"
	ErrFileCreate    ErrorCode = "FILE_CREATE"
	ErrFileWrite     ErrorCode = "FILE_WRITE"
	ErrSymlinkCreate ErrorCode = "SYMLINK_CREATE"
	ErrDirCreate     ErrorCode = "DIR_CREATE"
)

// DotstateError represents a structured error with code and details
type DotstateError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *DotstateError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *DotstateError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface
func (e *DotstateError) Is(target error) bool {
	var targetErr *DotstateError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new DotstateError with the given code and message
func New(code ErrorCode, message string) *DotstateError {
	return &DotstateError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new DotstateError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *DotstateError {
	return &DotstateError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a DotstateError
func Wrap(err error, code ErrorCode, message string) *DotstateError {
	if err == nil {
		return nil
	}
	return &DotstateError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *DotstateError {
	if err == nil {
		return nil
	}
	return &DotstateError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *DotstateError) WithDetail(key string, value interface{}) *DotstateError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var dsErr *DotstateError
	if errors.As(err, &dsErr) {
		return dsErr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown if not a DotstateError
func GetErrorCode(err error) ErrorCode {
	var dsErr *DotstateError
	if errors.As(err, &dsErr) {
		return dsErr.Code
	}
	return ErrUnknown
}
