// Package errors provides structured error types for the robofleet service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeParseError        = "PARSE_ERROR"
	ErrCodeUnknownSession    = "UNKNOWN_SESSION"
	ErrCodeChannelClosed     = "CHANNEL_CLOSED"
	ErrCodeSerialization     = "SERIALIZATION_ERROR"
	ErrCodeAgentNotConnected = "AGENT_NOT_CONNECTED"
	ErrCodeStorageError      = "STORAGE_ERROR"
	ErrCodeConfigError       = "CONFIG_ERROR"
	ErrCodeUnknownEvent      = "UNKNOWN_EVENT"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error wrapping the underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ParseError reports malformed JSON or an unknown discriminator where a
// known one is required.
func ParseError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeParseError,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}

// UnknownSession reports a response or close addressed to a session id
// that is not in the registry.
func UnknownSession(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownSession,
		Message:    fmt.Sprintf("no session with id '%s'", sessionID),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ChannelClosed reports that a downstream task dropped its channel before
// a result was delivered.
func ChannelClosed(message string) *AppError {
	return &AppError{
		Code:       ErrCodeChannelClosed,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Serialization reports a failure to encode or decode a typed value.
func Serialization(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSerialization,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// AgentNotConnected reports a directory miss in an HTTP handler.
func AgentNotConnected(robotID string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentNotConnected,
		Message:    "robot not connected",
		HTTPStatus: http.StatusBadRequest,
		Err:        fmt.Errorf("no live connection for robot '%s'", robotID),
	}
}

// StorageError wraps a database failure.
func StorageError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeStorageError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ConfigError reports a startup configuration failure.
func ConfigError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeConfigError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// UnknownEvent reports an event tag with no registered handler.
func UnknownEvent(tag string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownEvent,
		Message:    fmt.Sprintf("unknown event '%s'", tag),
		HTTPStatus: http.StatusBadRequest,
	}
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError extracts an AppError from err, or wraps it as an internal error.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError("internal error", err)
}
