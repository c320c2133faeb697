// Package retry provides an HTTP client with bounded exponential backoff.
// It is used for idempotent provider API reads (identity lookup); token
// grants are never retried here because authorization codes are single-use
// and refresh retry policy belongs to the broker's callers.
package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultMaxRetries        = 2
	defaultInitialRetryDelay = 500 * time.Millisecond
	defaultMaxRetryDelay     = 5 * time.Second
	defaultBackoffMultiplier = 2.0
)

// RetryableChecker decides whether an attempt outcome warrants a retry.
type RetryableChecker func(err error, resp *http.Response) bool

// Client wraps an http.Client with retry logic.
type Client struct {
	maxRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	backoffMultiplier float64
	httpClient        *http.Client
	retryableChecker  RetryableChecker
}

// Option configures a Client
type Option func(*Client)

// WithMaxRetries sets the maximum number of retry attempts
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithInitialRetryDelay sets the delay before the first retry
func WithInitialRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.initialRetryDelay = d
		}
	}
}

// WithMaxRetryDelay caps the delay between retries
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxRetryDelay = d
		}
	}
}

// WithHTTPClient sets the underlying http.Client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRetryableChecker overrides the retry decision function
func WithRetryableChecker(checker RetryableChecker) Option {
	return func(c *Client) {
		if checker != nil {
			c.retryableChecker = checker
		}
	}
}

// NewClient creates a retry-enabled HTTP client
func NewClient(opts ...Option) *Client {
	c := &Client{
		maxRetries:        defaultMaxRetries,
		initialRetryDelay: defaultInitialRetryDelay,
		maxRetryDelay:     defaultMaxRetryDelay,
		backoffMultiplier: defaultBackoffMultiplier,
		httpClient:        http.DefaultClient,
		retryableChecker:  DefaultRetryableChecker,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DefaultRetryableChecker retries on transport errors, 5xx responses, and
// 429 Too Many Requests.
func DefaultRetryableChecker(err error, resp *http.Response) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// Do executes the request, retrying per the configured policy. The request
// body must be nil or replayable (GET/HEAD callers only).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var resp *http.Response
	delay := c.initialRetryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf(
						"context cancelled after %d attempts: %w", attempt, lastErr,
					)
				}
				return nil, ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * c.backoffMultiplier)
				if delay > c.maxRetryDelay {
					delay = c.maxRetryDelay
				}
			}
		}

		resp, lastErr = c.httpClient.Do(req.Clone(ctx))

		if !c.retryableChecker(lastErr, resp) {
			return resp, lastErr
		}

		// Close before retry to keep the connection reusable
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
	}

	return resp, lastErr
}
