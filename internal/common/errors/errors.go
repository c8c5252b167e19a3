// Package errors provides the error envelope returned by the mcphost control API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeProvisionFailed    = "PROVISION_FAILED"
	ErrCodeSpawnFailed        = "SPAWN_FAILED"
	ErrCodeNotReady           = "NOT_READY"
	ErrCodePublishFailed      = "PUBLISH_FAILED"
)

// AppError is an error with a stable code and the HTTP status it maps to.
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

// New builds an AppError with an explicit code and status.
func New(code string, status int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return New(ErrCodeBadRequest, http.StatusBadRequest, message, nil)
}

// Forbidden creates a new forbidden error.
func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, http.StatusForbidden, message, nil)
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return New(ErrCodeInternalError, http.StatusInternalServerError, message, err)
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, http.StatusConflict, message, nil)
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return New(ErrCodeServiceUnavailable, http.StatusServiceUnavailable,
		fmt.Sprintf("service '%s' is currently unavailable", service), nil)
}

// Wrap wraps err with context. An AppError keeps its code and status; anything
// else becomes an internal error.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return New(appErr.Code, appErr.HTTPStatus, fmt.Sprintf("%s: %s", message, appErr.Message), err)
	}
	return InternalError(message, err)
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
