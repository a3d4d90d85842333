// Package apperr carries the coded error taxonomy surfaced to callers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrBackend      = errors.New("backend failure")
)

// Category tells a caller whether to retry, give up or fix the request.
type Category string

const (
	CategoryMalformedInput Category = "malformed_input"
	CategoryNoPath         Category = "no_path"
	CategoryTryLater       Category = "try_later"
	CategoryFatal          Category = "fatal"
)

// Error is a failure with a machine-readable code and message identifier.
type Error struct {
	Code     int
	Message  string
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid wraps a malformed-input failure.
func Invalid(message string, err error) *Error {
	return &Error{Code: 400, Message: message, Category: CategoryMalformedInput, Err: join(ErrInvalidInput, err)}
}

// NoPath reports that nothing can be routed under the current constraints.
func NoPath(message string) *Error {
	return &Error{Code: 404, Message: message, Category: CategoryNoPath, Err: ErrNotFound}
}

// Unavailable reports a condition that may clear up later.
func Unavailable(message string, err error) *Error {
	return &Error{Code: 503, Message: message, Category: CategoryTryLater, Err: err}
}

// Fatal reports a backend error that must not be retried.
func Fatal(message string, err error) *Error {
	return &Error{Code: 503, Message: message, Category: CategoryFatal, Err: join(ErrBackend, err)}
}

// As extracts a coded error from err. Uncoded errors come back as fatal.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Fatal("UnexpectedError", err)
}

func join(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
