// Package apperr defines the error codes shared by the imagery pipeline and
// the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure. Codes are strings so they serialize
// naturally into job records and API responses.
type Code string

const (
	// CodeInvalidGeometry marks a user geometry that cannot be used (empty, non-polygonal, too large).
	CodeInvalidGeometry Code = "INVALID_GEOMETRY"

	// CodeRaster marks an unreadable or empty imagery window.
	CodeRaster Code = "RASTER_ERROR"

	// CodeSRInference marks any super-resolution backend failure.
	CodeSRInference Code = "SR_INFERENCE_FAILED"

	// CodeCatalog marks a catalog transport or decoding failure.
	CodeCatalog Code = "CATALOG_ERROR"

	// CodeStorage marks an object storage failure.
	CodeStorage Code = "STORAGE_ERROR"

	// CodeNotFound marks a missing record.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidConfig marks a configuration error.
	CodeInvalidConfig Code = "INVALID_CONFIGURATION"

	// CodeUnknown is returned by CodeOf for errors without a code.
	CodeUnknown Code = "UNKNOWN"
)

// Error carries a Code alongside a short message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
