// Package errors provides coded domain errors for the reader engine and its collaborators.
//
// Usage:
//
//	// In a chapter source - return typed errors
//	if resp.StatusCode == http.StatusNotFound {
//	    return errors.Unreachablef("chapter %s not found", url)
//	}
//
//	// At the boundary - check with errors.Is
//	if errors.Is(err, errors.ErrUnsupported) {
//	    response.BadRequest(w, err.Error(), logger)
//	    return
//	}
//
//	// Or switch on the Code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeInvalidChapter:
//	        response.Error(w, domainErr.HTTPStatus(), domainErr.Message, logger)
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeValidation     Code = "VALIDATION"
	CodeConflict       Code = "CONFLICT"
	CodeInternal       Code = "INTERNAL"
	CodeInvalidChapter Code = "INVALID_CHAPTER"
	CodeUnreachable    Code = "UNREACHABLE"
	CodeUnsupported    Code = "UNSUPPORTED"
	CodeClosed         Code = "CLOSED"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeValidation, CodeInvalidChapter, CodeUnsupported:
		return http.StatusBadRequest
	case CodeUnreachable:
		return http.StatusBadGateway
	case CodeClosed:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists  = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation     = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict       = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal       = &Error{Code: CodeInternal, Message: "internal error"}
	ErrInvalidChapter = &Error{Code: CodeInvalidChapter, Message: "invalid chapter"}
	ErrUnreachable    = &Error{Code: CodeUnreachable, Message: "source unreachable"}
	ErrUnsupported    = &Error{Code: CodeUnsupported, Message: "source not supported"}
	ErrClosed         = &Error{Code: CodeClosed, Message: "closed"}
)

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidChapterf creates an invalid chapter error with formatted message.
func InvalidChapterf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidChapter, Message: fmt.Sprintf(format, args...)}
}

// Unreachablef creates an unreachable source error with formatted message.
func Unreachablef(format string, args ...any) *Error {
	return &Error{Code: CodeUnreachable, Message: fmt.Sprintf(format, args...)}
}

// Unsupportedf creates an unsupported source error with formatted message.
func Unsupportedf(format string, args ...any) *Error {
	return &Error{Code: CodeUnsupported, Message: fmt.Sprintf(format, args...)}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
