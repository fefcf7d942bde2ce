// Package apierror defines the failure taxonomy for backend calls.
//
// Every non-success result from the request gateway is an *APIError
// carrying the HTTP status (0 for pure network or timeout failures),
// a human-readable message, an optional machine code, and optional
// field-level validation details.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine codes attached by the gateway for failures that never
// reached a server-reported status.
const (
	CodeNetwork = "network_error"
	CodeTimeout = "timeout"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is the classified outcome of a failed backend call.
type APIError struct {
	Status  int          `json:"status"` // HTTP status; 0 = network/timeout
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// New creates an APIError from a server-reported status.
func New(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// Network creates a status-0 error for a failed round trip.
func Network(message string) *APIError {
	return &APIError{Status: 0, Code: CodeNetwork, Message: message}
}

// Timeout creates a status-0 error for an exceeded call deadline.
// It is distinct from any server-reported error.
func Timeout(message string) *APIError {
	return &APIError{Status: 0, Code: CodeTimeout, Message: message}
}

// From extracts an *APIError from err, or nil if err is not one.
func From(err error) *APIError {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsNetwork reports whether err is a pure network failure (no HTTP
// status was ever observed), including timeouts.
func IsNetwork(err error) bool {
	ae := From(err)
	return ae != nil && ae.Status == 0
}

// IsTimeout reports whether err is a call-deadline failure.
func IsTimeout(err error) bool {
	ae := From(err)
	return ae != nil && ae.Status == 0 && ae.Code == CodeTimeout
}

// IsUnauthorized reports a 401.
func IsUnauthorized(err error) bool { return hasStatus(err, http.StatusUnauthorized) }

// IsForbidden reports a 403.
func IsForbidden(err error) bool { return hasStatus(err, http.StatusForbidden) }

// IsNotFound reports a 404.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsRateLimited reports a 429.
func IsRateLimited(err error) bool { return hasStatus(err, http.StatusTooManyRequests) }

// IsValidation reports a 400 or 422.
func IsValidation(err error) bool {
	ae := From(err)
	if ae == nil {
		return false
	}
	return ae.Status == http.StatusBadRequest || ae.Status == http.StatusUnprocessableEntity
}

// IsServerError reports any 5xx.
func IsServerError(err error) bool {
	ae := From(err)
	return ae != nil && ae.Status >= 500 && ae.Status < 600
}

// Retryable reports whether the failure class is safe to retry:
// network failures, rate limiting, and server errors. Client errors
// (400/401/403/404/422) are never retryable.
func Retryable(err error) bool {
	return IsNetwork(err) || IsRateLimited(err) || IsServerError(err)
}

func hasStatus(err error, status int) bool {
	ae := From(err)
	return ae != nil && ae.Status == status
}
