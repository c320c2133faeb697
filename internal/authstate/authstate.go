// Package authstate issues and verifies the signed state parameter that
// round-trips through the provider's authorization redirect. The state binds
// the tenant and provider so a callback cannot be replayed against a
// different tenant.
package authstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidState indicates the state token failed verification
	ErrInvalidState = errors.New("authstate: invalid state token")

	// ErrStateExpired indicates the state token is past its lifetime
	ErrStateExpired = errors.New("authstate: state token expired")
)

// Claims carried by a state token.
type Claims struct {
	TenantID string `json:"tid"`
	Provider string `json:"prv"`
	jwt.RegisteredClaims
}

// Manager signs and verifies state tokens with an HMAC secret.
type Manager struct {
	secret   []byte
	lifetime time.Duration
}

// NewManager creates a state token manager. A lifetime of zero defaults
// to ten minutes, long enough for a user to complete the consent screen.
func NewManager(secret string, lifetime time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("authstate: secret is required")
	}
	if lifetime <= 0 {
		lifetime = 10 * time.Minute
	}
	return &Manager{
		secret:   []byte(secret),
		lifetime: lifetime,
	}, nil
}

// Issue creates a signed state token for the given tenant and provider.
func (m *Manager) Issue(tenantID, provider string) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("authstate: sign state token: %w", err)
	}
	return signed, nil
}

// Verify parses a state token and returns its claims. The caller must
// still check that the provider in the claims matches the callback route.
func (m *Manager) Verify(state string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrStateExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !token.Valid {
		return nil, ErrInvalidState
	}
	if claims.TenantID == "" || claims.Provider == "" {
		return nil, ErrInvalidState
	}
	return claims, nil
}
