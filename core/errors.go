package core

import (
	"net/http"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return "validation failed"
	}
	return err.Err.Error()
}

// StateError is returned when an operation conflicts with the current state of a resource.
// Code is the HTTP status the API answers with.
type StateError struct {
	Code    int
	Message string
}

func NewStateError(code int, msg string) *StateError {
	return &StateError{Code: code, Message: msg}
}

func (err *StateError) Error() string {
	return err.Message
}

// StatusOf returns the HTTP status of a StateError, or 500.
func StatusOf(err error) int {
	if serr, ok := errors.Cause(err).(*StateError); ok {
		return serr.Code
	}
	return http.StatusInternalServerError
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
