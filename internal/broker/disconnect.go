package broker

import (
	"context"

	"github.com/Adam151997/Y-CRM-sub000/internal/audit"
	"github.com/Adam151997/Y-CRM-sub000/internal/models"
	"github.com/Adam151997/Y-CRM-sub000/internal/provider"
)

// Disconnect revokes the provider grant on a best-effort basis and then
// unconditionally purges stored secrets. A failed or unreachable revoke
// endpoint never blocks the local disconnect.
func (b *Broker) Disconnect(ctx context.Context, tenantID, providerName string) error {
	adapter, ok := b.adapters[providerName]
	if !ok {
		return ErrUnknownProvider
	}

	conn, err := b.store.LoadConnection(tenantID, providerName)
	if err != nil {
		return err
	}

	revoked := b.tryRevoke(ctx, adapter, conn)

	if err := b.store.ClearSecrets(tenantID, providerName, models.StatusDisconnected); err != nil {
		b.metrics.RecordDatabaseQueryError("clear_secrets")
		return err
	}
	b.invalidateStatus(tenantID, providerName)

	b.metrics.RecordDisconnect(providerName, revoked)
	b.recordAudit(audit.Entry{
		EventType: models.EventConnectionDisconnected,
		Severity:  models.SeverityInfo,
		TenantID:  tenantID,
		Provider:  providerName,
		Details:   models.AuditDetails{"revoked_at_provider": revoked},
		Success:   true,
	})
	return nil
}

// tryRevoke attempts provider-side revocation with the stored access
// token. Any failure is recorded and swallowed.
func (b *Broker) tryRevoke(ctx context.Context, adapter provider.Adapter, conn *models.Connection) bool {
	if conn.EncryptedAccessToken == "" {
		return false
	}

	accessToken, err := b.enc.Decrypt(conn.EncryptedAccessToken)
	if err != nil {
		// Undecryptable ciphertext cannot be revoked remotely; the local
		// purge still proceeds.
		b.decryptFailure(conn, err)
		return false
	}

	if err := adapter.Revoke(ctx, accessToken); err != nil {
		b.recordAudit(audit.Entry{
			EventType:    models.EventTokenRevokeFailed,
			Severity:     models.SeverityWarning,
			TenantID:     conn.TenantID,
			Provider:     conn.Provider,
			ErrorMessage: err.Error(),
		})
		return false
	}
	return true
}
