package bootstrap

import (
	"log"
	"net/http"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/config"
	"github.com/Adam151997/Y-CRM-sub000/internal/provider"

	"github.com/appleboy/go-httpclient"
)

// initializeAdapters builds the configured provider adapters. A provider
// that is enabled but missing credentials is skipped with a warning so a
// bad deploy degrades instead of crashing.
func initializeAdapters(cfg *config.Config) []provider.Adapter {
	httpClient := createProviderHTTPClient(cfg)
	var adapters []provider.Adapter

	switch {
	case !cfg.GoogleOAuthEnabled:
		// Skip Google
	case cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "":
		log.Printf("Warning: Google OAuth enabled but CLIENT_ID or CLIENT_SECRET missing")
	default:
		adapters = append(adapters, provider.NewGoogleAdapter(provider.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Scopes:       cfg.GoogleOAuthScopes,
			Timeout:      cfg.ProviderTimeout,
			HTTPClient:   httpClient,
		}))
		log.Printf("Google provider configured: scopes=%v", cfg.GoogleOAuthScopes)
	}

	switch {
	case !cfg.SlackOAuthEnabled:
		// Skip Slack
	case cfg.SlackClientID == "" || cfg.SlackClientSecret == "":
		log.Printf("Warning: Slack OAuth enabled but CLIENT_ID or CLIENT_SECRET missing")
	default:
		adapters = append(adapters, provider.NewSlackAdapter(provider.Config{
			ClientID:     cfg.SlackClientID,
			ClientSecret: cfg.SlackClientSecret,
			Scopes:       cfg.SlackOAuthScopes,
			Timeout:      cfg.ProviderTimeout,
			HTTPClient:   httpClient,
		}))
		log.Printf("Slack provider configured: scopes=%v", cfg.SlackOAuthScopes)
	}

	if len(adapters) == 0 {
		log.Printf("Warning: no providers configured; connect flows will return 404")
	}
	return adapters
}

// createProviderHTTPClient creates the shared HTTP client for provider
// traffic with a pooled transport
func createProviderHTTPClient(cfg *config.Config) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	httpClient, err := httpclient.NewClient(
		httpclient.WithTimeout(cfg.ProviderTimeout),
		httpclient.WithTransport(transport),
	)
	if err != nil {
		log.Fatalf("Failed to create provider HTTP client: %v", err)
	}
	return httpClient
}
