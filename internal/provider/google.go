package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	googleRevokeURL   = "https://oauth2.googleapis.com/revoke"
)

// GoogleAdapter implements Adapter for Google Workspace accounts (Gmail,
// Calendar, Drive scopes).
type GoogleAdapter struct {
	oauthBase
	userinfoURL string
	revokeURL   string
}

// NewGoogleAdapter creates a Google OAuth adapter.
func NewGoogleAdapter(cfg Config) *GoogleAdapter {
	return &GoogleAdapter{
		oauthBase:   newOAuthBase("google", cfg, google.Endpoint),
		userinfoURL: googleUserinfoURL,
		revokeURL:   googleRevokeURL,
	}
}

func (g *GoogleAdapter) Name() string { return "google" }

// Capabilities: Google keeps the refresh token stable and usually omits it
// from refresh responses.
func (g *GoogleAdapter) Capabilities() Capabilities {
	return Capabilities{RotatesRefreshToken: false}
}

// AuthorizationURL requests offline access so a refresh token is issued, and
// forces the consent prompt so reconnects get a fresh refresh token too.
func (g *GoogleAdapter) AuthorizationURL(redirectURI, state string, scopes []string) string {
	return g.authorizationURL(redirectURI, state, scopes,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (g *GoogleAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	tok, err := g.exchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	return g.tokenSet(tok, ""), nil
}

func (g *GoogleAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	tok, err := g.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return g.tokenSet(tok, refreshToken), nil
}

type googleUserinfo struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (g *GoogleAdapter) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	body, err := g.getJSON(ctx, g.userinfoURL, accessToken)
	if err != nil {
		return nil, fmt.Errorf("google: fetch userinfo: %w", err)
	}

	var info googleUserinfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("google: decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("google: userinfo response missing subject")
	}

	return &Identity{
		ExternalAccountID: info.Sub,
		DisplayName:       info.Name,
		Email:             info.Email,
	}, nil
}

// Revoke invalidates the token at Google. Revoking an access token also
// revokes the underlying grant.
func (g *GoogleAdapter) Revoke(ctx context.Context, accessToken string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("google: create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("google: revoke: %w", err)
	}
	defer resp.Body.Close()

	// Google returns 400 for already-revoked tokens; treat as success so
	// disconnect stays idempotent.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("google: revoke returned %s", resp.Status)
	}
	if resp.StatusCode == http.StatusBadRequest {
		log.Printf("[Provider] google revoke: token already invalid")
	}
	return nil
}
