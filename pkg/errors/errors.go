package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by kagu-miru services.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
	ErrGone           = errors.New("resource gone")
	ErrRateLimited    = errors.New("rate limited")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrInternal       = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(code string, status int, sentinel error, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: sentinel}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return newError("NOT_FOUND", http.StatusNotFound, ErrNotFound,
		fmt.Sprintf("%s with id %s not found", resource, id))
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return newError("INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput, message)
}

// InvalidParameter creates a 400 error for a single malformed or
// inconsistent parameter.
func InvalidParameter(name, message string) *AppError {
	return newError("INVALID_PARAMETER", http.StatusBadRequest, ErrInvalidInput, name+": "+message)
}

func Conflict(message string) *AppError {
	return newError("CONFLICT", http.StatusConflict, ErrConflict, message)
}

// Gone is returned for a session that existed but was closed.
func Gone(message string) *AppError {
	return newError("GONE", http.StatusGone, ErrGone, message)
}

func RateLimited(message string) *AppError {
	return newError("RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited, message)
}

// ServiceUnavailable reports a failing dependency. Both ErrServiceUnavail
// and err match errors.Is on the result.
func ServiceUnavailable(service string, err error) *AppError {
	return newError("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable,
		errors.Join(ErrServiceUnavail, err), service+" is unavailable")
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrGone, http.StatusGone},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// HTTPStatus maps err to a status code. An AppError anywhere in the chain
// wins over sentinel matching; anything unrecognized is a 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, m := range sentinelStatus {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
