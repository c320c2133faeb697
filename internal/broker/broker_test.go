package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/cache"
	"github.com/Adam151997/Y-CRM-sub000/internal/crypto"
	"github.com/Adam151997/Y-CRM-sub000/internal/models"
	"github.com/Adam151997/Y-CRM-sub000/internal/provider"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a scriptable provider.Adapter for lifecycle tests.
type fakeAdapter struct {
	name    string
	rotates bool

	mu            sync.Mutex
	refreshCalls  atomic.Int64
	exchangeCalls int
	revokeCalls   int
	identityCalls int

	refreshFunc  func(refreshToken string) (*provider.TokenSet, error)
	exchangeFunc func(code string) (*provider.TokenSet, error)
	revokeErr    error
	identity     provider.Identity
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{RotatesRefreshToken: f.rotates}
}

func (f *fakeAdapter) AuthorizationURL(redirectURI, state string, scopes []string) string {
	return "https://example.test/authorize?state=" + state
}

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*provider.TokenSet, error) {
	f.mu.Lock()
	f.exchangeCalls++
	f.mu.Unlock()
	if f.exchangeFunc != nil {
		return f.exchangeFunc(code)
	}
	return &provider.TokenSet{
		AccessToken:  "access-for-" + code,
		RefreshToken: "refresh-for-" + code,
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       []string{"email", "profile"},
	}, nil
}

func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*provider.TokenSet, error) {
	f.refreshCalls.Add(1)
	if f.refreshFunc != nil {
		return f.refreshFunc(refreshToken)
	}
	return &provider.TokenSet{
		AccessToken: "refreshed-access",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeAdapter) FetchIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	f.mu.Lock()
	f.identityCalls++
	f.mu.Unlock()
	id := f.identity
	if id.ExternalAccountID == "" {
		id = provider.Identity{ExternalAccountID: "acct-1", DisplayName: "Test User", Email: "user@example.test"}
	}
	return &id, nil
}

func (f *fakeAdapter) Revoke(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	f.revokeCalls++
	f.mu.Unlock()
	return f.revokeErr
}

var _ provider.Adapter = (*fakeAdapter)(nil)

type brokerFixture struct {
	broker  *Broker
	store   *store.Store
	enc     *crypto.Encryptor
	adapter *fakeAdapter
	cache   *cache.MemoryCache[StatusSnapshot]
}

func newFixture(t *testing.T, adapterName string) *brokerFixture {
	t.Helper()

	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared"
	st, err := store.New("sqlite", dsn)
	require.NoError(t, err)

	enc, err := crypto.NewEncryptor(map[int]string{1: "test-key-one", 2: "test-key-two"}, 1)
	require.NoError(t, err)

	adapter := &fakeAdapter{name: adapterName}
	statusCache := cache.NewMemoryCache[StatusSnapshot]()

	b := New(st, enc, []provider.Adapter{adapter}, Options{
		ExpiryBuffer: 5 * time.Minute,
		StatusCache:  statusCache,
		CacheTTL:     30 * time.Second,
	})

	return &brokerFixture{broker: b, store: st, enc: enc, adapter: adapter, cache: statusCache}
}

// seedConnection inserts an ACTIVE connection with encrypted tokens.
func (fx *brokerFixture) seedConnection(t *testing.T, tenantID string, expiresAt time.Time) *models.Connection {
	t.Helper()

	encAccess, err := fx.enc.Encrypt("stored-access")
	require.NoError(t, err)
	encRefresh, err := fx.enc.Encrypt("stored-refresh")
	require.NoError(t, err)

	conn := &models.Connection{
		TenantID:              tenantID,
		Provider:              fx.adapter.name,
		Status:                models.StatusActive,
		ExternalAccountID:     "acct-1",
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		AccessTokenExpiresAt:  expiresAt,
		GrantedScopes:         "email profile",
		ConnectedAt:           time.Now(),
	}
	require.NoError(t, fx.store.SaveConnection(conn))
	return conn
}

func TestGetValidTokenServesFreshTokenWithoutRefresh(t *testing.T) {
	fx := newFixture(t, "google")
	fx.seedConnection(t, "tenant-1", time.Now().Add(time.Hour))

	cred, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, "stored-access", cred.AccessToken)
	assert.Equal(t, []string{"email", "profile"}, cred.Scopes)
	assert.EqualValues(t, 0, fx.adapter.refreshCalls.Load(), "fresh token must not hit the provider")
}

func TestGetValidTokenRefreshesInsideBuffer(t *testing.T) {
	fx := newFixture(t, "google")
	// Expires in 2 minutes, inside the 5 minute buffer.
	fx.seedConnection(t, "tenant-1", time.Now().Add(2*time.Minute))

	cred, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", cred.AccessToken)
	assert.EqualValues(t, 1, fx.adapter.refreshCalls.Load())

	// New token is persisted before being returned.
	conn, err := fx.store.LoadConnection("tenant-1", "google")
	require.NoError(t, err)
	stored, err := fx.enc.Decrypt(conn.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", stored)
	assert.Equal(t, models.StatusActive, conn.Status)
}

func TestGetValidTokenNotConnected(t *testing.T) {
	fx := newFixture(t, "google")

	_, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	require.ErrorIs(t, err, ErrUnavailable)

	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonNotConnected, uerr.Reason)
	assert.False(t, uerr.Retryable())
}

func TestGetValidTokenUnknownProvider(t *testing.T) {
	fx := newFixture(t, "google")

	_, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "hubspot")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRefreshKeepsUnrotatedRefreshToken(t *testing.T) {
	fx := newFixture(t, "google")
	fx.seedConnection(t, "tenant-1", time.Now().Add(-time.Minute))

	_, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	require.NoError(t, err)

	conn, err := fx.store.LoadConnection("tenant-1", "google")
	require.NoError(t, err)
	refresh, err := fx.enc.Decrypt(conn.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "stored-refresh", refresh)
}

func TestRefreshPersistsRotatedRefreshToken(t *testing.T) {
	fx := newFixture(t, "slack")
	fx.adapter.rotates = true
	fx.adapter.refreshFunc = func(refreshToken string) (*provider.TokenSet, error) {
		return &provider.TokenSet{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil
	}
	fx.seedConnection(t, "tenant-1", time.Now().Add(-time.Minute))

	cred, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)

	conn, err := fx.store.LoadConnection("tenant-1", "slack")
	require.NoError(t, err)
	refresh, err := fx.enc.Decrypt(conn.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", refresh)
}

func TestConcurrentCallersSingleRefresh(t *testing.T) {
	fx := newFixture(t, "google")
	fx.adapter.refreshFunc = func(refreshToken string) (*provider.TokenSet, error) {
		// Slow refresh widens the race window.
		time.Sleep(50 * time.Millisecond)
		return &provider.TokenSet{
			AccessToken: "refreshed-access",
			ExpiresAt:   time.Now().Add(time.Hour),
		}, nil
	}
	fx.seedConnection(t, "tenant-1", time.Now().Add(-time.Minute))

	const callers = 20
	var wg sync.WaitGroup
	creds := make([]*Credential, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-access", creds[i].AccessToken)
	}
	assert.EqualValues(t, 1, fx.adapter.refreshCalls.Load(), "exactly one provider refresh")
}

func TestInvalidGrantIsTerminal(t *testing.T) {
	fx := newFixture(t, "google")
	fx.adapter.refreshFunc = func(refreshToken string) (*provider.TokenSet, error) {
		return nil, &provider.RefreshError{
			Provider: "google",
			Reason:   provider.ReasonInvalidGrant,
			Err:      errors.New("invalid_grant"),
		}
	}
	fx.seedConnection(t, "tenant-1", time.Now().Add(-time.Minute))

	_, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonInvalidGrant, uerr.Reason)

	conn, err := fx.store.LoadConnection("tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, conn.Status)
	assert.Empty(t, conn.EncryptedAccessToken, "dead access token is cleared")
	assert.NotEmpty(t, conn.EncryptedRefreshToken, "refresh ciphertext kept for diagnostics")

	// Subsequent calls fail fast without touching the provider.
	before := fx.adapter.refreshCalls.Load()
	_, err = fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonNeedsReauth, uerr.Reason)
	assert.Equal(t, before, fx.adapter.refreshCalls.Load())
}

func TestTransientRefreshFailureKeepsState(t *testing.T) {
	fx := newFixture(t, "google")
	fx.adapter.refreshFunc = func(refreshToken string) (*provider.TokenSet, error) {
		return nil, &provider.RefreshError{
			Provider: "google",
			Reason:   provider.ReasonNetwork,
			Err:      errors.New("connection refused"),
		}
	}
	seeded := fx.seedConnection(t, "tenant-1", time.Now().Add(-time.Minute))

	_, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonTransient, uerr.Reason)
	assert.True(t, uerr.Retryable())

	conn, err := fx.store.LoadConnection("tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, conn.Status)
	assert.Equal(t, seeded.EncryptedRefreshToken, conn.EncryptedRefreshToken)

	// A later attempt retries the provider.
	fx.adapter.refreshFunc = nil
	cred, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", cred.AccessToken)
}

func TestDecryptFailureLeavesRowUntouched(t *testing.T) {
	fx := newFixture(t, "google")
	conn := fx.seedConnection(t, "tenant-1", time.Now().Add(time.Hour))

	// Corrupt the stored ciphertext out of band.
	conn.EncryptedAccessToken = "v1:AAAAaaaabbbbccccddddeeee"
	require.NoError(t, fx.store.SaveConnection(conn))

	_, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonDecryptFailure, uerr.Reason)

	reloaded, err := fx.store.LoadConnection("tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, reloaded.Status)
	assert.Equal(t, "v1:AAAAaaaabbbbccccddddeeee", reloaded.EncryptedAccessToken,
		"undecryptable ciphertext stays on the row for key recovery")
}

func TestCommitAuthorizationCreatesActiveConnection(t *testing.T) {
	fx := newFixture(t, "google")

	conn, err := fx.broker.CommitAuthorization(context.Background(),
		"tenant-1", "google", "auth-code", "https://crm.example.test/oauth/callback/google")
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, conn.Status)
	assert.Equal(t, "acct-1", conn.ExternalAccountID)
	assert.Equal(t, "user@example.test", conn.Email)
	assert.Equal(t, "email profile", conn.GrantedScopes)
	assert.False(t, conn.ConnectedAt.IsZero())

	access, err := fx.enc.Decrypt(conn.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-for-auth-code", access)
}

func TestCommitAuthorizationReconnectClearsErrorState(t *testing.T) {
	fx := newFixture(t, "google")
	seeded := fx.seedConnection(t, "tenant-1", time.Now())
	seeded.Status = models.StatusError
	seeded.EncryptedAccessToken = ""
	require.NoError(t, fx.store.SaveConnection(seeded))

	conn, err := fx.broker.CommitAuthorization(context.Background(),
		"tenant-1", "google", "fresh-code", "https://crm.example.test/oauth/callback/google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, conn.Status)
	assert.Equal(t, seeded.ID, conn.ID, "reconnect reuses the existing row")

	cred, err := fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, "access-for-fresh-code", cred.AccessToken)
}

func TestCommitAuthorizationKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	fx := newFixture(t, "google")
	fx.seedConnection(t, "tenant-1", time.Now())
	fx.adapter.exchangeFunc = func(code string) (*provider.TokenSet, error) {
		// Re-consent without a new refresh token.
		return &provider.TokenSet{
			AccessToken: "reconnect-access",
			ExpiresAt:   time.Now().Add(time.Hour),
		}, nil
	}

	conn, err := fx.broker.CommitAuthorization(context.Background(),
		"tenant-1", "google", "code", "https://crm.example.test/oauth/callback/google")
	require.NoError(t, err)

	refresh, err := fx.enc.Decrypt(conn.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "stored-refresh", refresh)
}

func TestCommitAuthorizationExchangeFailure(t *testing.T) {
	fx := newFixture(t, "google")
	fx.adapter.exchangeFunc = func(code string) (*provider.TokenSet, error) {
		return nil, &provider.ExchangeError{Provider: "google", Err: errors.New("invalid code")}
	}

	_, err := fx.broker.CommitAuthorization(context.Background(),
		"tenant-1", "google", "bad-code", "https://crm.example.test/oauth/callback/google")
	require.Error(t, err)

	var xerr *provider.ExchangeError
	assert.ErrorAs(t, err, &xerr)

	_, err = fx.store.LoadConnection("tenant-1", "google")
	assert.ErrorIs(t, err, store.ErrConnectionNotFound, "failed exchange writes nothing")
}

func TestDisconnectPurgesSecretsEvenWhenRevokeFails(t *testing.T) {
	fx := newFixture(t, "google")
	fx.adapter.revokeErr = fmt.Errorf("revoke endpoint down")
	fx.seedConnection(t, "tenant-1", time.Now().Add(time.Hour))

	err := fx.broker.Disconnect(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.adapter.revokeCalls)

	conn, err := fx.store.LoadConnection("tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, conn.Status)
	assert.Empty(t, conn.EncryptedAccessToken)
	assert.Empty(t, conn.EncryptedRefreshToken)

	_, err = fx.broker.GetValidToken(context.Background(), "tenant-1", "google")
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonDisconnected, uerr.Reason)
}

func TestDisconnectNotFound(t *testing.T) {
	fx := newFixture(t, "google")

	err := fx.broker.Disconnect(context.Background(), "tenant-1", "google")
	assert.ErrorIs(t, err, store.ErrConnectionNotFound)
}

func TestRotateConnectionKeyRoundTrip(t *testing.T) {
	fx := newFixture(t, "google")
	conn := fx.seedConnection(t, "tenant-1", time.Now().Add(time.Hour))

	changed, err := fx.broker.RotateConnectionKey(conn, 1, 2)
	require.NoError(t, err)
	assert.True(t, changed)

	v, err := crypto.Version(conn.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	access, err := fx.enc.Decrypt(conn.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", access)
	refresh, err := fx.enc.Decrypt(conn.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "stored-refresh", refresh)

	// Second pass is a no-op.
	changed, err = fx.broker.RotateConnectionKey(conn, 1, 2)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRotateConnectionKeyCoversLegacyMetadata(t *testing.T) {
	fx := newFixture(t, "google")
	encLegacy, err := fx.enc.Encrypt("legacy-access")
	require.NoError(t, err)

	conn := &models.Connection{
		TenantID: "tenant-legacy",
		Provider: "google",
		Status:   models.StatusActive,
		Metadata: models.ConnectionMetadata{
			models.LegacyMetadataAccessTokenKey: encLegacy,
			"display_hint":                      "Legacy Account",
		},
	}

	changed, err := fx.broker.RotateConnectionKey(conn, 1, 2)
	require.NoError(t, err)
	assert.True(t, changed)

	rotated, ok := conn.Metadata[models.LegacyMetadataAccessTokenKey].(string)
	require.True(t, ok)
	v, err := crypto.Version(rotated)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	plain, err := fx.enc.Decrypt(rotated)
	require.NoError(t, err)
	assert.Equal(t, "legacy-access", plain)
	assert.Equal(t, "Legacy Account", conn.Metadata["display_hint"])
}

func TestGetConnectionStatusOmitsSecrets(t *testing.T) {
	fx := newFixture(t, "google")
	fx.seedConnection(t, "tenant-1", time.Now().Add(time.Hour))

	snap, err := fx.broker.GetConnectionStatus(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, snap.Status)
	assert.Equal(t, "acct-1", snap.ExternalAccountID)
	assert.Equal(t, []string{"email", "profile"}, snap.Scopes)
}

func TestGetConnectionStatusCacheInvalidatedOnDisconnect(t *testing.T) {
	fx := newFixture(t, "google")
	fx.seedConnection(t, "tenant-1", time.Now().Add(time.Hour))

	snap, err := fx.broker.GetConnectionStatus(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, snap.Status)

	require.NoError(t, fx.broker.Disconnect(context.Background(), "tenant-1", "google"))

	snap, err = fx.broker.GetConnectionStatus(context.Background(), "tenant-1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, snap.Status)
}

func TestListConnectionStatuses(t *testing.T) {
	fx := newFixture(t, "google")
	fx.seedConnection(t, "tenant-1", time.Now().Add(time.Hour))
	fx.seedConnection(t, "tenant-2", time.Now().Add(time.Hour))

	snaps, err := fx.broker.ListConnectionStatuses(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "google", snaps[0].Provider)
}
