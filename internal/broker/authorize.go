package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/audit"
	"github.com/Adam151997/Y-CRM-sub000/internal/models"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"
)

// CommitAuthorization completes the OAuth callback: it exchanges the
// single-use code, snapshots the provider-side identity, and upserts the
// connection as ACTIVE. Reconnecting replaces whatever state the existing
// row was in, including ERROR.
func (b *Broker) CommitAuthorization(ctx context.Context, tenantID, providerName, code, redirectURI string) (*models.Connection, error) {
	adapter, ok := b.adapters[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}

	ts, err := adapter.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		b.metrics.RecordCodeExchange(providerName, false)
		b.recordAudit(audit.Entry{
			EventType:    models.EventAuthorizationFailed,
			Severity:     models.SeverityWarning,
			TenantID:     tenantID,
			Provider:     providerName,
			ErrorMessage: err.Error(),
		})
		return nil, fmt.Errorf("authorization exchange: %w", err)
	}

	identity, err := adapter.FetchIdentity(ctx, ts.AccessToken)
	if err != nil {
		b.metrics.RecordCodeExchange(providerName, false)
		b.recordAudit(audit.Entry{
			EventType:    models.EventAuthorizationFailed,
			Severity:     models.SeverityWarning,
			TenantID:     tenantID,
			Provider:     providerName,
			ErrorMessage: err.Error(),
		})
		return nil, fmt.Errorf("fetch identity: %w", err)
	}

	conn, err := b.store.LoadConnection(tenantID, providerName)
	if err != nil {
		if !errors.Is(err, store.ErrConnectionNotFound) {
			return nil, err
		}
		conn = &models.Connection{
			TenantID: tenantID,
			Provider: providerName,
		}
	}

	encAccess, err := b.enc.Encrypt(ts.AccessToken)
	if err != nil {
		return nil, err
	}
	conn.EncryptedAccessToken = encAccess
	conn.AccessTokenExpiresAt = ts.ExpiresAt

	// Some providers omit the refresh token on re-consent; in that case
	// the previously stored one is still live and must be kept.
	if ts.RefreshToken != "" {
		encRefresh, err := b.enc.Encrypt(ts.RefreshToken)
		if err != nil {
			return nil, err
		}
		conn.EncryptedRefreshToken = encRefresh
	}

	conn.Status = models.StatusActive
	conn.ExternalAccountID = identity.ExternalAccountID
	conn.DisplayName = identity.DisplayName
	conn.Email = identity.Email
	conn.ConnectedAt = time.Now()
	if len(ts.Scopes) > 0 {
		conn.GrantedScopes = strings.Join(ts.Scopes, " ")
	}

	if err := b.store.SaveConnection(conn); err != nil {
		return nil, err
	}
	b.invalidateStatus(tenantID, providerName)

	b.metrics.RecordCodeExchange(providerName, true)
	b.recordAudit(audit.Entry{
		EventType: models.EventConnectionAuthorized,
		Severity:  models.SeverityInfo,
		TenantID:  tenantID,
		Provider:  providerName,
		Details: models.AuditDetails{
			"external_account_id": identity.ExternalAccountID,
			"scopes":              conn.GrantedScopes,
		},
		Success: true,
	})

	return conn, nil
}
