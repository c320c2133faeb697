// Package broker coordinates the credential lifecycle: it is the only
// component that decrypts token ciphertext, talks to provider adapters,
// and persists connection rows. Everything above it (HTTP handlers, the
// rotation CLI) goes through the broker.
package broker

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/audit"
	"github.com/Adam151997/Y-CRM-sub000/internal/cache"
	"github.com/Adam151997/Y-CRM-sub000/internal/crypto"
	"github.com/Adam151997/Y-CRM-sub000/internal/locker"
	"github.com/Adam151997/Y-CRM-sub000/internal/metrics"
	"github.com/Adam151997/Y-CRM-sub000/internal/models"
	"github.com/Adam151997/Y-CRM-sub000/internal/provider"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"
)

const (
	defaultExpiryBuffer = 5 * time.Minute
	defaultCacheTTL     = 30 * time.Second
)

// Credential is a decrypted access token handed to internal callers.
// It is never persisted.
type Credential struct {
	Provider    string    `json:"provider"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      []string  `json:"scopes"`
}

// Options tunes broker behavior. Zero values pick sane defaults.
type Options struct {
	// ExpiryBuffer is how long before expiry a token counts as stale.
	ExpiryBuffer time.Duration

	// StatusCache holds non-secret connection snapshots. Nil disables
	// caching.
	StatusCache cache.Cache[StatusSnapshot]
	CacheTTL    time.Duration

	Metrics metrics.Recorder
	Audit   *audit.Service
}

// Broker owns the credential lifecycle for all tenants and providers.
type Broker struct {
	store    *store.Store
	enc      *crypto.Encryptor
	adapters map[string]provider.Adapter

	locks        *locker.Keyed
	expiryBuffer time.Duration

	statusCache cache.Cache[StatusSnapshot]
	cacheTTL    time.Duration

	metrics metrics.Recorder
	audit   *audit.Service
}

// New creates a broker over the given store, encryptor, and adapters.
func New(st *store.Store, enc *crypto.Encryptor, adapters []provider.Adapter, opts Options) *Broker {
	if opts.ExpiryBuffer <= 0 {
		opts.ExpiryBuffer = defaultExpiryBuffer
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.NoopMetrics{}
	}

	byName := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}

	return &Broker{
		store:        st,
		enc:          enc,
		adapters:     byName,
		locks:        locker.NewKeyed(),
		expiryBuffer: opts.ExpiryBuffer,
		statusCache:  opts.StatusCache,
		cacheTTL:     opts.CacheTTL,
		metrics:      opts.Metrics,
		audit:        opts.Audit,
	}
}

// Adapter returns the registered adapter for a provider name.
func (b *Broker) Adapter(name string) (provider.Adapter, bool) {
	a, ok := b.adapters[name]
	return a, ok
}

// Providers returns the registered provider names, sorted.
func (b *Broker) Providers() []string {
	names := make([]string, 0, len(b.adapters))
	for name := range b.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GrantsScope reports whether the tenant's stored connection for the
// provider covers the given scope. Missing connections grant nothing.
func (b *Broker) GrantsScope(tenantID, providerName, scope string) bool {
	conn, err := b.store.LoadConnection(tenantID, providerName)
	if err != nil {
		return false
	}
	return conn.HasScope(scope)
}

// GetValidToken returns a usable access token for the tenant's connection,
// refreshing it first when it expires within the configured buffer. A
// fresh stored token is served without any provider call. Concurrent
// callers for the same (tenant, provider) trigger at most one refresh.
func (b *Broker) GetValidToken(ctx context.Context, tenantID, providerName string) (*Credential, error) {
	adapter, ok := b.adapters[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}

	conn, err := b.store.LoadConnection(tenantID, providerName)
	if err != nil {
		if errors.Is(err, store.ErrConnectionNotFound) {
			b.metrics.RecordTokenRequest(providerName, metrics.OutcomeUnavailable)
			return nil, unavailable(tenantID, providerName, ReasonNotConnected, err)
		}
		b.metrics.RecordDatabaseQueryError("load_connection")
		return nil, err
	}

	if cred, uerr := b.credentialFromRow(conn); uerr != nil {
		b.metrics.RecordTokenRequest(providerName, metrics.OutcomeUnavailable)
		return nil, uerr
	} else if cred != nil {
		b.metrics.RecordTokenRequest(providerName, metrics.OutcomeCached)
		return cred, nil
	}

	// Token is stale; serialize the refresh per (tenant, provider).
	unlock := b.locks.Lock(tenantID + "/" + providerName)
	defer unlock()

	// Another caller may have refreshed while we waited on the lock.
	conn, err = b.store.LoadConnection(tenantID, providerName)
	if err != nil {
		return nil, err
	}
	if cred, uerr := b.credentialFromRow(conn); uerr != nil {
		b.metrics.RecordTokenRequest(providerName, metrics.OutcomeUnavailable)
		return nil, uerr
	} else if cred != nil {
		b.metrics.RecordTokenRequest(providerName, metrics.OutcomeCached)
		return cred, nil
	}

	cred, err := b.refreshConnection(ctx, adapter, conn)
	if err != nil {
		b.metrics.RecordTokenRequest(providerName, metrics.OutcomeUnavailable)
		return nil, err
	}
	b.metrics.RecordTokenRequest(providerName, metrics.OutcomeRefreshed)
	return cred, nil
}

// credentialFromRow serves the stored token when the row can satisfy the
// request without a provider call. Returns (nil, nil) when a refresh is
// needed, and an UnavailableError when the row can never serve.
func (b *Broker) credentialFromRow(conn *models.Connection) (*Credential, *UnavailableError) {
	switch conn.Status {
	case models.StatusDisconnected:
		return nil, unavailable(conn.TenantID, conn.Provider, ReasonDisconnected, nil)
	case models.StatusError:
		return nil, unavailable(conn.TenantID, conn.Provider, ReasonNeedsReauth, nil)
	}

	if conn.EncryptedAccessToken == "" || conn.TokenExpiresWithin(b.expiryBuffer) {
		return nil, nil
	}

	accessToken, err := b.enc.Decrypt(conn.EncryptedAccessToken)
	if err != nil {
		return nil, b.decryptFailure(conn, err)
	}

	return &Credential{
		Provider:    conn.Provider,
		AccessToken: accessToken,
		ExpiresAt:   conn.AccessTokenExpiresAt,
		Scopes:      conn.ScopeList(),
	}, nil
}

// refreshConnection performs one provider refresh and persists the result
// before returning the new token. Caller holds the per-connection lock.
func (b *Broker) refreshConnection(ctx context.Context, adapter provider.Adapter, conn *models.Connection) (*Credential, error) {
	if conn.EncryptedRefreshToken == "" {
		return nil, b.terminalRefreshFailure(conn, errors.New("no refresh token on record"))
	}

	refreshToken, err := b.enc.Decrypt(conn.EncryptedRefreshToken)
	if err != nil {
		return nil, b.decryptFailure(conn, err)
	}

	start := time.Now()
	ts, err := adapter.Refresh(ctx, refreshToken)
	if err != nil {
		var rerr *provider.RefreshError
		if errors.As(err, &rerr) && rerr.Terminal() {
			b.metrics.RecordTokenRefresh(conn.Provider, metrics.RefreshInvalidGrant, time.Since(start))
			return nil, b.terminalRefreshFailure(conn, err)
		}

		b.metrics.RecordTokenRefresh(conn.Provider, metrics.RefreshTransient, time.Since(start))
		b.recordAudit(audit.Entry{
			EventType:    models.EventTokenRefreshFailed,
			Severity:     models.SeverityWarning,
			TenantID:     conn.TenantID,
			Provider:     conn.Provider,
			Details:      models.AuditDetails{"terminal": false},
			ErrorMessage: err.Error(),
		})
		return nil, unavailable(conn.TenantID, conn.Provider, ReasonTransient, err)
	}
	b.metrics.RecordTokenRefresh(conn.Provider, metrics.RefreshSuccess, time.Since(start))

	encAccess, err := b.enc.Encrypt(ts.AccessToken)
	if err != nil {
		return nil, err
	}
	conn.EncryptedAccessToken = encAccess
	conn.AccessTokenExpiresAt = ts.ExpiresAt

	// Providers that rotate refresh tokens return the replacement here;
	// the old one is dead the moment the refresh succeeded, so the new
	// one must be on disk before anyone sees the new access token.
	if ts.RefreshToken != "" {
		encRefresh, err := b.enc.Encrypt(ts.RefreshToken)
		if err != nil {
			return nil, err
		}
		conn.EncryptedRefreshToken = encRefresh
	}
	if len(ts.Scopes) > 0 {
		conn.GrantedScopes = strings.Join(ts.Scopes, " ")
	}

	if err := b.store.SaveConnection(conn); err != nil {
		b.metrics.RecordDatabaseQueryError("save_connection")
		return nil, err
	}
	b.invalidateStatus(conn.TenantID, conn.Provider)

	b.recordAudit(audit.Entry{
		EventType: models.EventTokenRefreshed,
		Severity:  models.SeverityInfo,
		TenantID:  conn.TenantID,
		Provider:  conn.Provider,
		Details: models.AuditDetails{
			"expires_at":            ts.ExpiresAt.UTC().Format(time.RFC3339),
			"refresh_token_rotated": ts.RefreshToken != "",
		},
		Success: true,
	})

	return &Credential{
		Provider:    conn.Provider,
		AccessToken: ts.AccessToken,
		ExpiresAt:   ts.ExpiresAt,
		Scopes:      conn.ScopeList(),
	}, nil
}

// terminalRefreshFailure marks the connection as needing re-authorization.
// The dead access token is cleared; the refresh token ciphertext stays on
// the row for incident diagnostics until disconnect or reconnect.
func (b *Broker) terminalRefreshFailure(conn *models.Connection, cause error) *UnavailableError {
	conn.Status = models.StatusError
	conn.EncryptedAccessToken = ""
	conn.AccessTokenExpiresAt = time.Time{}

	if err := b.store.SaveConnection(conn); err != nil {
		b.metrics.RecordDatabaseQueryError("save_connection")
		log.Printf("[Broker] failed to persist error state for %s/%s: %v",
			conn.TenantID, conn.Provider, err)
	}
	b.invalidateStatus(conn.TenantID, conn.Provider)

	b.recordAudit(audit.Entry{
		EventType:    models.EventTokenRefreshFailed,
		Severity:     models.SeverityError,
		TenantID:     conn.TenantID,
		Provider:     conn.Provider,
		Details:      models.AuditDetails{"terminal": true},
		ErrorMessage: cause.Error(),
	})

	return unavailable(conn.TenantID, conn.Provider, ReasonInvalidGrant, cause)
}

// decryptFailure handles undecryptable ciphertext. The row is left
// untouched so the ciphertext remains available for key recovery.
func (b *Broker) decryptFailure(conn *models.Connection, cause error) *UnavailableError {
	log.Printf("[Broker] DECRYPT FAILURE for %s/%s: %v (check key material)",
		conn.TenantID, conn.Provider, cause)
	b.metrics.RecordDecryptFailure(conn.Provider)
	b.recordAudit(audit.Entry{
		EventType:    models.EventDecryptFailure,
		Severity:     models.SeverityCritical,
		TenantID:     conn.TenantID,
		Provider:     conn.Provider,
		ErrorMessage: cause.Error(),
	})
	return unavailable(conn.TenantID, conn.Provider, ReasonDecryptFailure, cause)
}

func (b *Broker) recordAudit(entry audit.Entry) {
	if b.audit != nil {
		b.audit.Record(entry)
	}
}

func (b *Broker) invalidateStatus(tenantID, providerName string) {
	if b.statusCache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.statusCache.Delete(ctx, statusCacheKey(tenantID, providerName)); err != nil {
		log.Printf("[Broker] status cache invalidation failed for %s/%s: %v",
			tenantID, providerName, err)
	}
}
