package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is the base error for a credential that cannot be
	// served right now. Callers match it with errors.Is.
	ErrUnavailable = errors.New("credential unavailable")

	// ErrUnknownProvider is returned for provider names with no
	// registered adapter
	ErrUnknownProvider = errors.New("unknown provider")
)

// Unavailable reason codes.
const (
	ReasonNotConnected   = "not_connected"
	ReasonDisconnected   = "disconnected"
	ReasonNeedsReauth    = "needs_reauth"
	ReasonInvalidGrant   = "invalid_grant"
	ReasonTransient      = "transient"
	ReasonDecryptFailure = "decrypt_failure"
)

// UnavailableError reports why a token could not be served. Reason is a
// stable code suitable for API responses; Err carries the underlying cause.
type UnavailableError struct {
	TenantID string
	Provider string
	Reason   string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s unavailable (%s): %v", e.TenantID, e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s/%s unavailable (%s)", e.TenantID, e.Provider, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

// Retryable reports whether the caller may retry without re-authorization.
func (e *UnavailableError) Retryable() bool {
	return e.Reason == ReasonTransient
}

func unavailable(tenantID, provider, reason string, err error) *UnavailableError {
	return &UnavailableError{TenantID: tenantID, Provider: provider, Reason: reason, Err: err}
}
