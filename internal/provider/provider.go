// Package provider implements per-provider OAuth adapters behind one
// interface: authorization URL construction, code exchange, refresh,
// identity lookup, and revocation.
package provider

import (
	"context"
	"time"
)

// TokenSet is the result of a code exchange or refresh.
type TokenSet struct {
	AccessToken string

	// RefreshToken is empty when the provider did not issue one. On refresh,
	// an empty value means the previously stored refresh token stays valid.
	RefreshToken string

	ExpiresAt time.Time
	Scopes    []string
}

// Identity describes the provider-side account a token belongs to.
type Identity struct {
	ExternalAccountID string
	DisplayName       string
	Email             string
}

// Capabilities declares provider-specific refresh behavior consulted by the
// broker's persistence step.
type Capabilities struct {
	// RotatesRefreshToken is true when the provider invalidates the old
	// refresh token and issues a new one on every refresh. Concurrent
	// refreshes against such providers are destructive, which is why the
	// broker serializes them per connection.
	RotatesRefreshToken bool
}

// Adapter is the per-provider OAuth client.
type Adapter interface {
	// Name returns the provider identifier ("google", "slack").
	Name() string

	// Capabilities returns the provider's declared refresh behavior.
	Capabilities() Capabilities

	// AuthorizationURL builds the browser authorization URL. state is an
	// opaque CSRF-binding token supplied by the caller; the caller verifies
	// it on callback.
	AuthorizationURL(redirectURI, state string, scopes []string) string

	// ExchangeCode trades a single-use authorization code for tokens.
	// Fails with *ExchangeError; never retried.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error)

	// Refresh mints a new access token from a refresh token. Fails with
	// *RefreshError carrying a reason code.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// FetchIdentity looks up the account behind an access token.
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)

	// Revoke invalidates an access token at the provider. Best-effort.
	Revoke(ctx context.Context, accessToken string) error
}
