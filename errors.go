package lti

import (
	"fmt"
	"net/http"
)

// Registration and launch failure codes as constants. These are internal:
// the consumer-facing surface never distinguishes registration failure
// classes (the redirect carries status=failure only), and launch failures
// surface as bare status codes.
const (
	ErrorCodeNegotiationFailed  = "negotiation_failed"
	ErrorCodeDiscoveryFailed    = "discovery_failed"
	ErrorCodeTransportFailure   = "transport_failure"
	ErrorCodePersistenceFailure = "persistence_failure"
	ErrorCodeProxyNotFound      = "proxy_not_found"
	ErrorCodeUnauthorized       = "unauthorized"
)

// ProtocolError represents a failure in the registration or launch protocol.
type ProtocolError struct {
	Code        string // failure class (e.g. "negotiation_failed")
	Description string // operator-facing description, never sent to consumers
	Status      int    // HTTP status class for the launch surface
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(code, description string, status int) *ProtocolError {
	return &ProtocolError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Registration-phase failure constructors. All of them collapse to the same
// status=failure redirect; the distinct codes exist for logs, audit, and
// metrics only.
var (
	// ErrNegotiationFailed indicates the consumer profile is missing a
	// required capability or security profile.
	ErrNegotiationFailed = func(desc string) *ProtocolError {
		return NewProtocolError(ErrorCodeNegotiationFailed, desc, http.StatusBadRequest)
	}

	// ErrDiscoveryFailed indicates no matching service endpoint in the
	// consumer profile.
	ErrDiscoveryFailed = func(desc string) *ProtocolError {
		return NewProtocolError(ErrorCodeDiscoveryFailed, desc, http.StatusBadRequest)
	}

	// ErrTransportFailure indicates an outbound call errored, timed out,
	// or returned an unexpected status or shape.
	ErrTransportFailure = func(desc string) *ProtocolError {
		return NewProtocolError(ErrorCodeTransportFailure, desc, http.StatusBadGateway)
	}

	// ErrPersistenceFailure indicates the completed tool proxy could not
	// be stored.
	ErrPersistenceFailure = func(desc string) *ProtocolError {
		return NewProtocolError(ErrorCodePersistenceFailure, desc, http.StatusInternalServerError)
	}
)

// Launch-phase outcomes. These two are the only failures a launch caller
// may distinguish: an unknown consumer key is a client addressing error, not
// a trust violation, so it maps to 404 rather than 401. Everything else —
// bad signature, stale timestamp, replayed nonce — collapses into
// ErrUnauthorizedLaunch so that callers cannot learn which check failed.
var (
	ErrProxyNotFound = NewProtocolError(ErrorCodeProxyNotFound,
		"no tool proxy for consumer key", http.StatusNotFound)

	ErrUnauthorizedLaunch = NewProtocolError(ErrorCodeUnauthorized,
		"launch authentication failed", http.StatusUnauthorized)
)
