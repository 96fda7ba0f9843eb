// Package core provides core types and interfaces for the LLM gateway.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the normalized category of a failed backend call.
// The set is closed: callers never observe backend-specific error types.
type ErrorKind string

const (
	// KindModelNotFound indicates the requested model is unknown or inaccessible (404)
	KindModelNotFound ErrorKind = "model_not_found"
	// KindInvalidRequest indicates malformed parameters (400, 422)
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindAuthenticationFailed indicates a missing or invalid credential (401)
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	// KindPermissionDenied indicates the credential lacks access to the model (403)
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindRateLimited indicates backend throttling (429)
	KindRateLimited ErrorKind = "rate_limited"
	// KindConnectionFailed indicates a network or transport failure, timeouts included
	KindConnectionFailed ErrorKind = "connection_failed"
	// KindBackendStatus indicates any other structured error status from the backend
	KindBackendStatus ErrorKind = "backend_status_error"
	// KindUnknown is the catch-all for anything unrecognized
	KindUnknown ErrorKind = "unknown_provider_error"
)

// Kinds lists every normalized error kind.
var Kinds = []ErrorKind{
	KindModelNotFound,
	KindInvalidRequest,
	KindAuthenticationFailed,
	KindPermissionDenied,
	KindRateLimited,
	KindConnectionFailed,
	KindBackendStatus,
	KindUnknown,
}

// GatewayError is the only error type returned across the invocation boundary.
type GatewayError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	// Detail carries the upstream message or validation detail for diagnostics
	Detail string `json:"detail,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a GatewayError of the same kind, so callers can
// write errors.Is(err, core.ErrRateLimited).
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Provider == "" && t.Kind == e.Kind
}

// WithProvider returns e when it already names a provider, otherwise a copy
// of e attributed to provider. e itself is never modified, so the sentinels
// below stay usable as errors.Is targets.
func (e *GatewayError) WithProvider(provider string) *GatewayError {
	if e.Provider != "" || provider == "" {
		return e
	}
	cp := *e
	cp.Provider = provider
	return &cp
}

// Sentinels for errors.Is matching by kind.
var (
	ErrModelNotFound        = &GatewayError{Kind: KindModelNotFound}
	ErrInvalidRequest       = &GatewayError{Kind: KindInvalidRequest}
	ErrAuthenticationFailed = &GatewayError{Kind: KindAuthenticationFailed}
	ErrPermissionDenied     = &GatewayError{Kind: KindPermissionDenied}
	ErrRateLimited          = &GatewayError{Kind: KindRateLimited}
	ErrConnectionFailed     = &GatewayError{Kind: KindConnectionFailed}
	ErrBackendStatus        = &GatewayError{Kind: KindBackendStatus}
	ErrUnknown              = &GatewayError{Kind: KindUnknown}
)

// NewModelNotFoundError creates a model-not-found error attributed to model
func NewModelNotFoundError(provider, model, detail string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindModelNotFound,
		Message:    fmt.Sprintf("model %q does not exist or is not accessible", model),
		Provider:   provider,
		Model:      model,
		StatusCode: http.StatusNotFound,
		Detail:     detail,
		Err:        err,
	}
}

// NewInvalidRequestError creates an invalid request error carrying the validation detail
func NewInvalidRequestError(provider, model, detail string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindInvalidRequest,
		Message:    "invalid request parameters",
		Provider:   provider,
		Model:      model,
		StatusCode: http.StatusBadRequest,
		Detail:     detail,
		Err:        err,
	}
}

// NewAuthenticationError creates an authentication error (401)
func NewAuthenticationError(provider, detail string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindAuthenticationFailed,
		Message:    "invalid or missing API key",
		Provider:   provider,
		StatusCode: http.StatusUnauthorized,
		Detail:     detail,
		Err:        err,
	}
}

// NewPermissionDeniedError creates a permission error (403)
func NewPermissionDeniedError(provider, model, detail string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindPermissionDenied,
		Message:    "API key does not have permission for this model",
		Provider:   provider,
		Model:      model,
		StatusCode: http.StatusForbidden,
		Detail:     detail,
		Err:        err,
	}
}

// NewRateLimitError creates a rate limit error (429)
func NewRateLimitError(provider, detail string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		Provider:   provider,
		StatusCode: http.StatusTooManyRequests,
		Detail:     detail,
		Err:        err,
	}
}

// NewConnectionError creates a network/transport error
func NewConnectionError(provider, detail string, err error) *GatewayError {
	return &GatewayError{
		Kind:     KindConnectionFailed,
		Message:  "network or connection error",
		Provider: provider,
		Detail:   detail,
		Err:      err,
	}
}

// NewBackendStatusError creates an error for any other upstream status, preserving the code
func NewBackendStatusError(provider string, statusCode int, detail string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindBackendStatus,
		Message:    "backend returned error status",
		Provider:   provider,
		StatusCode: statusCode,
		Detail:     detail,
		Err:        err,
	}
}

// NewUnknownError creates the catch-all error
func NewUnknownError(provider string, err error) *GatewayError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &GatewayError{
		Kind:     KindUnknown,
		Message:  "unexpected provider error",
		Provider: provider,
		Detail:   detail,
		Err:      err,
	}
}

// FromStatus maps an upstream HTTP status to the taxonomy. It is shared by
// backends whose native errors carry a status code.
func FromStatus(provider, model string, statusCode int, detail string, err error) *GatewayError {
	var gwErr *GatewayError
	switch {
	case statusCode == http.StatusNotFound:
		gwErr = NewModelNotFoundError(provider, model, detail, err)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		gwErr = NewInvalidRequestError(provider, model, detail, err)
	case statusCode == http.StatusUnauthorized:
		gwErr = NewAuthenticationError(provider, detail, err)
	case statusCode == http.StatusForbidden:
		gwErr = NewPermissionDeniedError(provider, model, detail, err)
	case statusCode == http.StatusTooManyRequests:
		gwErr = NewRateLimitError(provider, detail, err)
	case statusCode > 0:
		return NewBackendStatusError(provider, statusCode, detail, err)
	default:
		return NewUnknownError(provider, err)
	}
	gwErr.StatusCode = statusCode
	return gwErr
}

// IsTransportError reports whether err is a network, timeout or context failure
// raised before a backend status was received.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Normalize guarantees that err is a *GatewayError. Errors that are already
// normalized pass through untouched; anything else becomes KindUnknown.
func Normalize(provider string, err error) *GatewayError {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.WithProvider(provider)
	}
	return NewUnknownError(provider, err)
}

// KindOf returns the normalized kind of err, or KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnknown
}
