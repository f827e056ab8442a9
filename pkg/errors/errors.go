// Package errors defines the structured error types used across the SDK.
// Errors carry a machine-readable code and a type classification so the
// runner can decide between redelivery and terminal acknowledgement.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection-level failures.
var (
	ErrNotConnected   = errors.New("not connected to NATS")
	ErrTimeout        = errors.New("operation timed out")
	ErrInvalidMessage = errors.New("invalid message")
	ErrStreamNotFound = errors.New("stream not found")
)

// ErrorType classifies an AppError for retry and reporting decisions.
type ErrorType string

const (
	Internal         ErrorType = "INTERNAL"
	BadRequest       ErrorType = "BAD_REQUEST"
	NotFound         ErrorType = "NOT_FOUND"
	Unauthorized     ErrorType = "UNAUTHORIZED"
	Conflict         ErrorType = "CONFLICT"
	ValidationFailed ErrorType = "VALIDATION_FAILED"
	PermissionDenied ErrorType = "PERMISSION_DENIED"
)

// AppError is the structured error returned by SDK operations. Internal
// errors are considered transient (the message is redelivered); every other
// type is permanent and terminates processing of the message.
type AppError struct {
	Type          ErrorType
	Code          string
	Message       string
	CorrelationID string
	Err           error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError creates a permanent error with an explicit type.
func NewError(errType ErrorType, message, code string, err error) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a permanent validation error. Validation
// failures are never retried.
func NewValidationError(message, code string, err error) *AppError {
	return &AppError{
		Type:    ValidationFailed,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a transient internal error tagged with the
// correlation ID of the message being processed.
func NewInternalError(correlationID, message, code string, err error) *AppError {
	return &AppError{
		Type:          Internal,
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Err:           err,
	}
}

// NewNotFoundError creates a permanent not-found error.
func NewNotFoundError(message, code string, err error) *AppError {
	return &AppError{
		Type:    NotFound,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsTransient reports whether err should trigger message redelivery.
// Only internal errors are transient; unclassified errors are treated as
// transient so unexpected failures get another attempt.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == Internal
	}
	return true
}

// IsTimeout reports whether err is (or wraps) the timeout sentinel.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected reports whether err is (or wraps) the not-connected sentinel.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
