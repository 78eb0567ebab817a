package gateway

import (
	"fmt"
	"net/http"
)

// MissingModelError means neither "model" nor "name" carried an identifier.
type MissingModelError struct{}

func (e *MissingModelError) Error() string {
	return `request body must include a "model" of the form "ServiceName/modelName"`
}

func (e *MissingModelError) StatusCode() int { return http.StatusBadRequest }

// InvalidFormatError means the identifier is not "service/model".
type InvalidFormatError struct {
	Identifier string
	Reason     string
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid model identifier %q: %s (expected \"ServiceName/modelName\")", e.Identifier, e.Reason)
}

func (e *InvalidFormatError) StatusCode() int { return http.StatusBadRequest }

// UnknownServiceError means the service prefix is not in the registry.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q: no backend is configured under that name", e.Service)
}

func (e *UnknownServiceError) StatusCode() int { return http.StatusNotFound }

// InvalidRequestError means the body could not be interpreted as a JSON object.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request body: " + e.Reason
}

func (e *InvalidRequestError) StatusCode() int { return http.StatusBadRequest }

// UpstreamUnavailableError means no response was received from the backend.
type UpstreamUnavailableError struct {
	Service string
	URL     string
	Timeout bool
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("backend %q timed out", e.Service)
	}
	return fmt.Sprintf("backend %q is unreachable", e.Service)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

func (e *UpstreamUnavailableError) StatusCode() int {
	if e.Timeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// UpstreamStatusError means the backend answered with a non-success status.
type UpstreamStatusError struct {
	Service string
	Status  int
	// Body is the backend's JSON error object, relayed verbatim when present.
	Body []byte
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("backend responded with status %d", e.Status)
}

func (e *UpstreamStatusError) StatusCode() int { return e.Status }

func (e *UpstreamStatusError) RawBody() []byte { return e.Body }

// RequestBuildError means the outbound request could not be constructed.
type RequestBuildError struct {
	Err error
}

func (e *RequestBuildError) Error() string {
	return "failed to build backend request"
}

func (e *RequestBuildError) Unwrap() error { return e.Err }

func (e *RequestBuildError) StatusCode() int { return http.StatusInternalServerError }

// StreamInterruptedError is reported after the response was committed, so it
// never reaches the caller as a status; the connection is cut instead.
type StreamInterruptedError struct {
	Service string
	Written int64
	// CallerGone is set when writing to the caller failed; the backend was
	// still healthy at that point.
	CallerGone bool
	Err        error
}

func (e *StreamInterruptedError) Error() string {
	if e.CallerGone {
		return fmt.Sprintf("caller stopped reading from backend %q after %d bytes: %v", e.Service, e.Written, e.Err)
	}
	return fmt.Sprintf("stream from backend %q interrupted after %d bytes: %v", e.Service, e.Written, e.Err)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }
