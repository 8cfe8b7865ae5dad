// Package errors defines the application error model shared by every layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the kind of error
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"

	// Application errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// External-collaborator errors. Transient errors are eligible for retry
	// and queue requeue; permanent errors are not.
	ErrorTypeTransient   ErrorType = "TRANSIENT"
	ErrorTypePermanent   ErrorType = "PERMANENT"
	ErrorTypeCircuitOpen ErrorType = "CIRCUIT_OPEN"
)

// AppError is the error value carried across layer boundaries
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewTimeoutError creates a timeout error for an operation
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation %s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service %s is unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewTransientError wraps an error that is safe to retry or requeue
func NewTransientError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeTransient,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
	}
}

// NewPermanentError wraps an error that must not be retried or requeued
func NewPermanentError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypePermanent,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewCircuitOpenError creates a fail-fast error for an open circuit
func NewCircuitOpenError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeCircuitOpen,
		Message:    fmt.Sprintf("circuit breaker for %s is open", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Helper functions for error checking

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Type == errType
	}
	return false
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsTransient checks if an error is safe to retry or requeue
func IsTransient(err error) bool {
	return IsType(err, ErrorTypeTransient) || IsType(err, ErrorTypeTimeout) || IsType(err, ErrorTypeUnavailable)
}

// IsPermanent checks if an error must not be retried or requeued
func IsPermanent(err error) bool {
	return IsType(err, ErrorTypePermanent) || IsType(err, ErrorTypeValidation) || IsType(err, ErrorTypeNotFound)
}

// IsCircuitOpen checks if an error came from an open circuit breaker
func IsCircuitOpen(err error) bool {
	return IsType(err, ErrorTypeCircuitOpen)
}

// Wrap wraps an error with a message, preserving AppError type if present
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return &AppError{
			Type:       appErr.Type,
			Message:    message,
			Code:       appErr.Code,
			Details:    appErr.Details,
			Cause:      err,
			HTTPStatus: appErr.HTTPStatus,
		}
	}
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
