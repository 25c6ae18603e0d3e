package domain

import (
	"fmt"
	"net/http"
)

// AppError is an error with a stable machine-readable code and the HTTP
// status the API answers with when it reaches a handler.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func newAppError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: status}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is compares by code, so copies made with WithError still match.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// WithError returns a copy of e carrying cause.
func (e *AppError) WithError(cause error) *AppError {
	cp := *e
	cp.Err = cause
	return &cp
}

var (
	ErrInternal   = newAppError("INTERNAL_ERROR", http.StatusInternalServerError, "An unexpected error occurred")
	ErrBadRequest = newAppError("BAD_REQUEST", http.StatusBadRequest, "Invalid request")

	ErrIdentityNotFound = newAppError("IDENTITY_NOT_FOUND", http.StatusNotFound, "Identity not found")
	ErrIdentityExists   = newAppError("IDENTITY_ALREADY_EXISTS", http.StatusConflict, "Identity already registered")
	ErrStoreUnavailable = newAppError("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "Identity store is unavailable")

	// ErrEmptyImage is returned by embedders handed a crop with no pixels.
	ErrEmptyImage = newAppError("EMPTY_IMAGE", http.StatusUnprocessableEntity, "Image has no pixels")
)
