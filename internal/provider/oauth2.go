package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/retry"

	"golang.org/x/oauth2"
)

const defaultTimeout = 15 * time.Second

// Config contains the registration a provider adapter needs.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Timeout bounds every outbound call to the provider. Defaults to 15s.
	Timeout time.Duration

	// HTTPClient overrides the client used for all provider traffic.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// oauthBase carries the oauth2 plumbing shared by all adapters.
type oauthBase struct {
	name       string
	conf       oauth2.Config
	timeout    time.Duration
	httpClient *http.Client
	api        *retry.Client
}

func newOAuthBase(name string, cfg Config, endpoint oauth2.Endpoint) oauthBase {
	httpClient := cfg.httpClient()
	return oauthBase{
		name: name,
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		timeout:    cfg.timeout(),
		httpClient: httpClient,
		api:        retry.NewClient(retry.WithHTTPClient(httpClient)),
	}
}

// callCtx bounds a provider round-trip and routes it through our HTTP client.
func (b *oauthBase) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	return context.WithTimeout(ctx, b.timeout)
}

func (b *oauthBase) authorizationURL(redirectURI, state string, scopes []string, opts ...oauth2.AuthCodeOption) string {
	conf := b.conf
	conf.RedirectURL = redirectURI
	if len(scopes) > 0 {
		conf.Scopes = scopes
	}
	return conf.AuthCodeURL(state, opts...)
}

func (b *oauthBase) exchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	conf := b.conf
	conf.RedirectURL = redirectURI

	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Provider: b.name, Err: err}
	}
	return tok, nil
}

func (b *oauthBase) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	tok, err := b.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyRefreshError(b.name, err)
	}
	return tok, nil
}

// tokenSet converts an oauth2 token into our TokenSet. sentRefreshToken is
// the refresh token used in the call: x/oauth2 copies it into the response
// when the provider did not rotate it, and we only report a refresh token
// that actually changed so the broker's "keep the old one" policy works.
func (b *oauthBase) tokenSet(tok *oauth2.Token, sentRefreshToken string) *TokenSet {
	ts := &TokenSet{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != sentRefreshToken {
		ts.RefreshToken = tok.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		ts.Scopes = splitScopes(scope)
	}
	return ts
}

// getJSON performs an authenticated GET against a provider API endpoint.
// Reads go through the retrying client; they are idempotent.
func (b *oauthBase) getJSON(ctx context.Context, url, accessToken string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := b.api.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error: %s - %s", b.name, resp.Status, string(body))
	}
	return body, nil
}

// splitScopes handles both space-separated (Google) and comma-separated
// (Slack) scope strings. Returns nil when no scopes are present, matching
// the stored scope list accessors.
func splitScopes(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
