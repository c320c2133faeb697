package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// Slack OAuth v2 endpoints. The v2 flow is required for granular scopes and
// token rotation.
var slackEndpoint = oauth2.Endpoint{
	AuthURL:  "https://slack.com/oauth/v2/authorize",
	TokenURL: "https://slack.com/api/oauth.v2.access",
}

const (
	slackIdentityURL = "https://slack.com/api/users.identity"
	slackRevokeURL   = "https://slack.com/api/auth.revoke"
)

// SlackAdapter implements Adapter for Slack workspaces with token rotation
// enabled.
type SlackAdapter struct {
	oauthBase
	identityURL string
	revokeURL   string
}

// NewSlackAdapter creates a Slack OAuth adapter.
func NewSlackAdapter(cfg Config) *SlackAdapter {
	return &SlackAdapter{
		oauthBase:   newOAuthBase("slack", cfg, slackEndpoint),
		identityURL: slackIdentityURL,
		revokeURL:   slackRevokeURL,
	}
}

func (s *SlackAdapter) Name() string { return "slack" }

// Capabilities: with rotation enabled Slack invalidates the old refresh
// token and issues a replacement on every refresh.
func (s *SlackAdapter) Capabilities() Capabilities {
	return Capabilities{RotatesRefreshToken: true}
}

// AuthorizationURL passes scopes as user_scope so tokens act on behalf of
// the connecting user rather than as a bot. The v2 scope parameter would
// request bot scopes, so it stays empty.
func (s *SlackAdapter) AuthorizationURL(redirectURI, state string, scopes []string) string {
	if len(scopes) == 0 {
		scopes = s.conf.Scopes
	}
	conf := s.conf
	conf.RedirectURL = redirectURI
	conf.Scopes = nil
	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("user_scope", strings.Join(scopes, ",")),
	)
}

func (s *SlackAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	tok, err := s.exchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	return s.tokenSet(tok, ""), nil
}

func (s *SlackAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	tok, err := s.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return s.tokenSet(tok, refreshToken), nil
}

// Slack wraps failures in HTTP 200 responses with ok=false, so every API
// response needs the envelope check.
type slackIdentityResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	User  struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
	Team struct {
		ID string `json:"id"`
	} `json:"team"`
}

func (s *SlackAdapter) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	body, err := s.getJSON(ctx, s.identityURL, accessToken)
	if err != nil {
		return nil, fmt.Errorf("slack: fetch identity: %w", err)
	}

	var resp slackIdentityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("slack: decode identity: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("slack: identity lookup failed: %s", resp.Error)
	}

	return &Identity{
		ExternalAccountID: resp.User.ID,
		DisplayName:       resp.User.Name,
		Email:             resp.User.Email,
	}, nil
}

func (s *SlackAdapter) Revoke(ctx context.Context, accessToken string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.revokeURL, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("slack: create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: revoke: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		Revoked bool   `json:"revoked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("slack: decode revoke response: %w", err)
	}
	// token_revoked means a prior revoke already landed
	if !envelope.OK && envelope.Error != "token_revoked" {
		return fmt.Errorf("slack: revoke failed: %s", envelope.Error)
	}
	return nil
}
