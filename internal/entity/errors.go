package entity

import (
	"errors"
	"fmt"
)

// Error is the structured error type shared by exporter, importer and
// runners.
//
// Codes:
//   - Structural: malformed document, cyclic dependency, dangling reference.
//     Always fatal, raised before any store mutation.
//   - Store: a repository operation failed. Fatal during export, recorded
//     per entity during import.
//   - Runner: an external process could not be run or timed out.
//   - Configuration: unknown runner, missing or invalid option. Raised before
//     any work begins.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Kind and Ref identify the affected entity, when there is one.
	Kind Kind
	Ref  Ref

	// Err is the underlying cause (optional).
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	ErrCodeStructural    ErrorCode = "STRUCTURAL"
	ErrCodeStore         ErrorCode = "STORE"
	ErrCodeRunner        ErrorCode = "RUNNER"
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
)

// ErrNotFound is returned by repositories when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Ref != 0 {
		msg = fmt.Sprintf("%s (ref=%d)", msg, e.Ref)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStructuralError creates an Error for a malformed document.
func NewStructuralError(ref Ref, message string) *Error {
	return &Error{Code: ErrCodeStructural, Message: message, Ref: ref}
}

// NewStoreError wraps a repository failure.
func NewStoreError(kind Kind, message string, err error) *Error {
	return &Error{Code: ErrCodeStore, Message: message, Kind: kind, Err: err}
}

// NewRunnerError creates an Error for a runner that could not complete.
func NewRunnerError(message string, err error) *Error {
	return &Error{Code: ErrCodeRunner, Message: message, Err: err}
}

// NewConfigurationError creates an Error for invalid configuration.
func NewConfigurationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsStructural returns true if err is a structural error.
// Uses errors.As to handle wrapped errors.
func IsStructural(err error) bool { return hasCode(err, ErrCodeStructural) }

// IsStore returns true if err is a store error.
func IsStore(err error) bool { return hasCode(err, ErrCodeStore) }

// IsRunner returns true if err is a runner error.
func IsRunner(err error) bool { return hasCode(err, ErrCodeRunner) }

// IsConfiguration returns true if err is a configuration error.
func IsConfiguration(err error) bool { return hasCode(err, ErrCodeConfiguration) }
