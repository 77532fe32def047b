package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
	CodeFanOut       = "FANOUT_FAILURE"
	CodeTransient    = "TRANSIENT_NETWORK_ERROR"
)

type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code, message string, status int, err error) *Error {
	return &Error{Code: code, Message: message, Status: status, Err: err}
}

func Unauthorized(message string, err error) *Error {
	return New(CodeUnauthorized, message, http.StatusUnauthorized, err)
}

func Forbidden(message string, err error) *Error {
	return New(CodeForbidden, message, http.StatusForbidden, err)
}

func Validation(message string, err error) *Error {
	return New(CodeValidation, message, http.StatusBadRequest, err)
}

func NotFound(resource string, err error) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, err)
}

func Conflict(message string, err error) *Error {
	return New(CodeConflict, message, http.StatusConflict, err)
}

func Internal(message string, err error) *Error {
	return New(CodeInternal, message, http.StatusInternalServerError, err)
}

// FanOut marks a broadcast that could not be delivered. It is logged, never returned to callers.
func FanOut(channel string, err error) *Error {
	return New(CodeFanOut, fmt.Sprintf("fan-out to %s failed", channel), http.StatusInternalServerError, err)
}

// Transient wraps client-side transport failures; the caller decides whether to retry.
func Transient(message string, err error) *Error {
	return New(CodeTransient, message, http.StatusServiceUnavailable, err)
}

func Is(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
