// Package apperr defines the error taxonomy surfaced to proxy clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the stable `type` tag returned to clients in error bodies.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "invalid_request_error"
	CodeServiceStopped    ErrorCode = "service_stopped"
	CodeServiceUnavail    ErrorCode = "service_unavailable"
	CodeNoAvailAccounts   ErrorCode = "no_available_accounts"
	CodeRateLimit         ErrorCode = "rate_limit_error"
	CodeContextTooLong    ErrorCode = "context_too_long"
	CodeCompressionFailed ErrorCode = "compression_failed"
	CodeTransformError    ErrorCode = "transform_error"
	CodeAPIError          ErrorCode = "api_error"
)

// httpStatus maps each code to the status spec.md §7 assigns it.
var httpStatus = map[ErrorCode]int{
	CodeInvalidRequest:    http.StatusBadRequest,
	CodeServiceStopped:    http.StatusServiceUnavailable,
	CodeServiceUnavail:    http.StatusServiceUnavailable,
	CodeNoAvailAccounts:   http.StatusServiceUnavailable,
	CodeRateLimit:         http.StatusTooManyRequests,
	CodeContextTooLong:    http.StatusBadRequest,
	CodeCompressionFailed: http.StatusInternalServerError,
	CodeTransformError:    http.StatusInternalServerError,
	CodeAPIError:          http.StatusInternalServerError,
}

// AppError is the typed error every proxy component returns across package
// boundaries so the HTTP layer can render a consistent body without
// re-deriving the status or type tag.
type AppError struct {
	Code    ErrorCode
	Message string
	TraceID string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus returns the client-facing status code for the error.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func NewInvalidRequest(message string) *AppError { return New(CodeInvalidRequest, message) }
func NewServiceUnavailable(message string) *AppError { return New(CodeServiceUnavail, message) }
func NewNoAvailableAccounts(message string) *AppError { return New(CodeNoAvailAccounts, message) }
func NewRateLimit(message string) *AppError { return New(CodeRateLimit, message) }
func NewContextTooLong(message string) *AppError { return New(CodeContextTooLong, message) }
func NewCompressionFailed(message string) *AppError { return New(CodeCompressionFailed, message) }
func NewTransformError(message string, cause error) *AppError {
	return Wrap(CodeTransformError, message, cause)
}
func NewAPIError(message string, cause error) *AppError {
	return Wrap(CodeAPIError, message, cause)
}

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsRateLimited(err error) bool      { return Is(err, CodeRateLimit) }
func IsContextTooLong(err error) bool   { return Is(err, CodeContextTooLong) }
func IsServiceUnavailable(err error) bool { return Is(err, CodeServiceUnavail) }
