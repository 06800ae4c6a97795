package utils

import (
	"errors"
	"fmt"
)

// Machine-readable error codes returned alongside the message
const (
	CodeGmailNotConfigured = "GMAIL_NOT_CONFIGURED"
	CodeLLMNotConfigured   = "LLM_NOT_CONFIGURED"
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeRateLimited        = "RATE_LIMITED"
)

// AppError represents a custom application error with context
type AppError struct {
	Code    int                    // HTTP status code
	Message string                 // User-friendly message
	Err     error                  // Underlying error
	Kind    string                 // Optional machine-readable code
	Context map[string]interface{} // Additional context
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying error to errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

// WithKind tags the error with a machine-readable code
func (e *AppError) WithKind(kind string) *AppError {
	e.Kind = kind
	return e
}

// AsAppError reports whether err wraps an *AppError and returns it
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Common error constructors
func BadRequestError(message string, err error) *AppError {
	return NewAppError(400, message, err)
}

func UnauthorizedError(message string, err error) *AppError {
	return NewAppError(401, message, err).WithKind(CodeAuthRequired)
}

func ForbiddenError(message string, err error) *AppError {
	return NewAppError(403, message, err)
}

func NotFoundError(message string, err error) *AppError {
	return NewAppError(404, message, err)
}

func InternalServerError(message string, err error) *AppError {
	return NewAppError(500, message, err)
}

// GmailNotConfiguredError is returned when no usable mailbox client exists for the session
func GmailNotConfiguredError(err error) *AppError {
	return NewAppError(400, "Gmail is not configured for this session", err).WithKind(CodeGmailNotConfigured)
}
