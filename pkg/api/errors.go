package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error defines the standard error shape handed to the error middleware.
type Error struct {
	// HTTP status code (e.g., 400, 404, 502)
	Code int
	// Safe message for the client
	Message string
	// Original error for internal logging
	Log error
	// Body, when set, is written verbatim instead of the {"error": ...} envelope.
	Body []byte
}

// Error implements standard error interface
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Log
}

// StatusCoder is implemented by errors that know which HTTP status they map to.
type StatusCoder interface {
	StatusCode() int
}

// RawBodier is implemented by errors carrying a body that should reach the
// caller untouched (e.g. a backend's own JSON error).
type RawBodier interface {
	RawBody() []byte
}

// AppError creates a generic application error
func AppError(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Log:     err,
	}
}

// InternalError creates a standard error for any internal server error
func InternalError(msg string, err error) *Error {
	return &Error{Code: http.StatusInternalServerError, Message: msg, Log: err}
}

// NotFoundError creates a standard 404 error
func NotFoundError(msg string) *Error {
	return &Error{Code: http.StatusNotFound, Message: msg}
}

// WrapError allows wrapping a standard error in an AppError
func WrapError(err error, code int, msg string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Message: fmt.Sprintf("%s: %v", msg, err),
		Log:     err,
	}
}

// FromError converts any error into an *Error. Errors that report their own
// status keep it; everything else becomes a 500 with a generic message.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		out := &Error{Code: coder.StatusCode(), Message: err.Error(), Log: err}

		var bodier RawBodier
		if errors.As(err, &bodier) {
			out.Body = bodier.RawBody()
		}
		return out
	}

	return InternalError("An unexpected error occurred.", err)
}
