// Package core provides the error envelope and request-scoped helpers shared by the proxy.
package core

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a ProxyError for clients.
type ErrorKind string

const (
	// ErrorKindInvalidRequest indicates a malformed inbound body (400)
	ErrorKindInvalidRequest ErrorKind = "invalid_request_error"
	// ErrorKindMethodNotAllowed indicates a non-POST call to a proxy route (405)
	ErrorKindMethodNotAllowed ErrorKind = "method_not_allowed"
	// ErrorKindNotFound indicates an unknown route (404)
	ErrorKindNotFound ErrorKind = "not_found_error"
	// ErrorKindRequestTooLarge indicates the body exceeded the size limit (413)
	ErrorKindRequestTooLarge ErrorKind = "request_too_large"
	// ErrorKindAuthentication indicates a missing or wrong master key (401)
	ErrorKindAuthentication ErrorKind = "authentication_error"
	// ErrorKindConfiguration indicates the server is missing its upstream credential (500)
	ErrorKindConfiguration ErrorKind = "configuration_error"
	// ErrorKindUpstream indicates a non-2xx answer from the provider (status relayed)
	ErrorKindUpstream ErrorKind = "upstream_error"
	// ErrorKindInternal indicates a local failure such as a network or parse error (500)
	ErrorKindInternal ErrorKind = "internal_error"
)

// ProxyError is the single error type surfaced to callers.
type ProxyError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	// Details carries the upstream error body for ErrorKindUpstream.
	Details any
	// Original error for logging (not exposed to clients)
	Err error
}

// Error implements the error interface
func (e *ProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status code to answer with.
func (e *ProxyError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case ErrorKindInvalidRequest:
		return http.StatusBadRequest
	case ErrorKindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorKindAuthentication:
		return http.StatusUnauthorized
	case ErrorKindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON shape of the error object inside the envelope.
type ErrorBody struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
	Details any       `json:"details,omitempty"`
}

// Envelope is the JSON document written for every failure.
type Envelope struct {
	Error ErrorBody `json:"error"`
}

// ToJSON converts the error to its wire envelope. Status is only set for
// upstream errors, where it differs in meaning from the proxy's own status.
func (e *ProxyError) ToJSON() Envelope {
	body := ErrorBody{
		Kind:    e.Kind,
		Message: e.Message,
		Details: e.Details,
	}
	if e.Kind == ErrorKindUpstream {
		body.Status = e.HTTPStatusCode()
	}
	return Envelope{Error: body}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *ProxyError {
	return &ProxyError{
		Kind:       ErrorKindInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewMethodNotAllowedError creates a new method not allowed error (405)
func NewMethodNotAllowedError(method string) *ProxyError {
	return &ProxyError{
		Kind:       ErrorKindMethodNotAllowed,
		Message:    "method " + method + " not allowed, use POST",
		StatusCode: http.StatusMethodNotAllowed,
	}
}

// NewConfigurationError creates a server misconfiguration error (500)
func NewConfigurationError(message string) *ProxyError {
	return &ProxyError{
		Kind:       ErrorKindConfiguration,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *ProxyError {
	return &ProxyError{
		Kind:       ErrorKindAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewUpstreamError creates an error that relays the provider's status and body.
func NewUpstreamError(statusCode int, message string, details any) *ProxyError {
	return &ProxyError{
		Kind:       ErrorKindUpstream,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

// NewInternalError creates a generic internal error (500). The cause is kept
// for logging only.
func NewInternalError(err error) *ProxyError {
	return &ProxyError{
		Kind:       ErrorKindInternal,
		Message:    "an unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// FromHTTPStatus maps a framework-level status (404, 405, 413...) to a ProxyError.
func FromHTTPStatus(statusCode int, message string) *ProxyError {
	kind := ErrorKindInternal
	switch statusCode {
	case http.StatusBadRequest:
		kind = ErrorKindInvalidRequest
	case http.StatusUnauthorized:
		kind = ErrorKindAuthentication
	case http.StatusNotFound:
		kind = ErrorKindNotFound
	case http.StatusMethodNotAllowed:
		kind = ErrorKindMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		kind = ErrorKindRequestTooLarge
	}
	if statusCode >= 500 {
		message = "an unexpected error occurred"
	}
	return &ProxyError{
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
	}
}
