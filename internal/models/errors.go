package models

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeExternal    ErrorType = "external"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeUnavailable ErrorType = "unavailable"
)

// Error codes for failures callers branch on.
const (
	CodeUnknownService     = "UNKNOWN_SERVICE"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeServiceTimeout     = "SERVICE_TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeWorkflowFailed     = "WORKFLOW_FAILED"
	CodeWorkflowNotFound   = "WORKFLOW_NOT_FOUND"
	CodeSpeculationTimeout = "SPECULATION_TIMEOUT"
)

type AppError struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Type     ErrorType              `json:"type"`
	Cause    error                  `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy carrying the underlying error, so sentinel
// errors are never mutated in place.
func (e *AppError) WithCause(cause error) *AppError {
	clone := e.clone()
	clone.Cause = cause
	return clone
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	clone := e.clone()
	if clone.Metadata == nil {
		clone.Metadata = make(map[string]interface{})
	}
	clone.Metadata[key] = value
	return clone
}

func (e *AppError) clone() *AppError {
	metadata := make(map[string]interface{}, len(e.Metadata))
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return &AppError{
		Code:     e.Code,
		Message:  e.Message,
		Type:     e.Type,
		Cause:    e.Cause,
		Metadata: metadata,
	}
}

func NewValidationError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeValidation}
}

func NewNotFoundError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeNotFound}
}

func NewExternalError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeExternal}
}

func NewInternalError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeInternal}
}

func NewTimeoutError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeTimeout}
}

func NewUnavailableError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeUnavailable}
}

func WrapExternalError(service string, err error) *AppError {
	return NewExternalError(CodeServiceUnavailable, fmt.Sprintf("%s call failed", service)).WithCause(err)
}

var ErrWorkflowNotFound = NewNotFoundError(CodeWorkflowNotFound, "Workflow not found")

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsCircuitOpen(err error) bool {
	return HasCode(err, CodeCircuitOpen)
}

func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeNotFound
	}
	return false
}
