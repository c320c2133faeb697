package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// RefreshReason classifies a refresh failure.
type RefreshReason string

const (
	// ReasonInvalidGrant means the refresh token itself is no longer valid
	// (revoked externally, expired, or rotated away). Terminal: no retry
	// will help.
	ReasonInvalidGrant RefreshReason = "INVALID_GRANT"
	// ReasonNetwork covers transport failures and timeouts. Transient.
	ReasonNetwork RefreshReason = "NETWORK"
	// ReasonProviderError covers provider-side failures (5xx, malformed
	// responses). Transient.
	ReasonProviderError RefreshReason = "PROVIDER_ERROR"
)

// ExchangeError reports a failed code-for-token exchange.
type ExchangeError struct {
	Provider string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s: code exchange failed: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError reports a failed token refresh with a reason code.
type RefreshError struct {
	Provider string
	Reason   RefreshReason
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s: refresh failed (%s): %v", e.Provider, e.Reason, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Terminal reports whether the failure is unrecoverable without a fresh
// authorization.
func (e *RefreshError) Terminal() bool {
	return e.Reason == ReasonInvalidGrant
}

// classifyRefreshError maps an oauth2 refresh failure to a RefreshError.
// A timeout is a transient network failure, never INVALID_GRANT.
func classifyRefreshError(providerName string, err error) *RefreshError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch {
		case retrieveErr.ErrorCode == "invalid_grant":
			return &RefreshError{Provider: providerName, Reason: ReasonInvalidGrant, Err: err}
		case retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= http.StatusInternalServerError:
			return &RefreshError{Provider: providerName, Reason: ReasonProviderError, Err: err}
		default:
			// 4xx with another error code: the provider rejected the request
			// for reasons that may clear up (rate limits, temporary policy)
			return &RefreshError{Provider: providerName, Reason: ReasonProviderError, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &RefreshError{Provider: providerName, Reason: ReasonNetwork, Err: err}
	}

	return &RefreshError{Provider: providerName, Reason: ReasonNetwork, Err: err}
}
