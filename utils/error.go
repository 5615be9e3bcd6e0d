package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// DomainError represents a domain-specific error with a code and message
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeStorage      = "STORAGE_ERROR"
)

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) error {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string) error {
	return &DomainError{
		Code:    ErrCodeValidation,
		Message: msg,
	}
}

// NewInvalidStateError creates an error for an operation that is illegal in
// the record's current lifecycle state
func NewInvalidStateError(msg string) error {
	return &DomainError{
		Code:    ErrCodeInvalidState,
		Message: msg,
	}
}

// NewConflictError creates a new conflict error (lock contention, safe to retry)
func NewConflictError(msg string) error {
	return &DomainError{
		Code:    ErrCodeConflict,
		Message: msg,
	}
}

// NewStorageError wraps a transient persistence failure (safe to retry with backoff)
func NewStorageError(err error) error {
	return &DomainError{
		Code:    ErrCodeStorage,
		Message: "storage operation failed",
		Err:     err,
	}
}

// Helper functions to check error types

func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeNotFound
}

func IsValidation(err error) bool {
	return ErrorCode(err) == ErrCodeValidation
}

func IsInvalidState(err error) bool {
	return ErrorCode(err) == ErrCodeInvalidState
}

func IsConflict(err error) bool {
	return ErrorCode(err) == ErrCodeConflict
}

func IsStorage(err error) bool {
	return ErrorCode(err) == ErrCodeStorage
}

// ErrorCode extracts the error code from a domain error.
// Unknown errors are treated as transient storage failures.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrCodeNotFound
	}
	return ErrCodeStorage
}
