package authstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("test-secret", time.Minute)
	require.NoError(t, err)

	state, err := m.Issue("tenant-1", "google")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	claims, err := m.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "google", claims.Provider)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m, err := NewManager("test-secret", time.Minute)
	require.NoError(t, err)

	state, err := m.Issue("tenant-1", "google")
	require.NoError(t, err)

	_, err = m.Verify(state + "x")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := NewManager("secret-a", time.Minute)
	require.NoError(t, err)
	verifier, err := NewManager("secret-b", time.Minute)
	require.NoError(t, err)

	state, err := issuer.Issue("tenant-1", "slack")
	require.NoError(t, err)

	_, err = verifier.Verify(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, err := NewManager("test-secret", time.Millisecond)
	require.NoError(t, err)

	state, err := m.Issue("tenant-1", "google")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = m.Verify(state)
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", time.Minute)
	assert.Error(t, err)
}
