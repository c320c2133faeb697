package broker

import (
	"context"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/cache"
	"github.com/Adam151997/Y-CRM-sub000/internal/models"
)

// StatusSnapshot is the non-secret view of a connection exposed to the
// CRM UI. It intentionally carries no ciphertext and no token material.
type StatusSnapshot struct {
	Provider          string                  `json:"provider"`
	Status            models.ConnectionStatus `json:"status"`
	ExternalAccountID string                  `json:"external_account_id,omitempty"`
	DisplayName       string                  `json:"display_name,omitempty"`
	Email             string                  `json:"email,omitempty"`
	Scopes            []string                `json:"scopes,omitempty"`
	ConnectedAt       time.Time               `json:"connected_at,omitempty"`
	ExpiresAt         time.Time               `json:"expires_at,omitempty"`
}

func statusCacheKey(tenantID, providerName string) string {
	return "connstatus:" + tenantID + "/" + providerName
}

func snapshotFromRow(conn *models.Connection) StatusSnapshot {
	return StatusSnapshot{
		Provider:          conn.Provider,
		Status:            conn.Status,
		ExternalAccountID: conn.ExternalAccountID,
		DisplayName:       conn.DisplayName,
		Email:             conn.Email,
		Scopes:            conn.ScopeList(),
		ConnectedAt:       conn.ConnectedAt,
		ExpiresAt:         conn.AccessTokenExpiresAt,
	}
}

// GetConnectionStatus returns the snapshot for one connection, served
// from the status cache when available. Returns store.ErrConnectionNotFound
// when the tenant never connected the provider.
func (b *Broker) GetConnectionStatus(ctx context.Context, tenantID, providerName string) (*StatusSnapshot, error) {
	if _, ok := b.adapters[providerName]; !ok {
		return nil, ErrUnknownProvider
	}

	fetch := func(ctx context.Context, _ string) (StatusSnapshot, error) {
		conn, err := b.store.LoadConnection(tenantID, providerName)
		if err != nil {
			return StatusSnapshot{}, err
		}
		return snapshotFromRow(conn), nil
	}

	if b.statusCache == nil {
		snap, err := fetch(ctx, "")
		if err != nil {
			return nil, err
		}
		return &snap, nil
	}

	snap, err := cache.GetWithFetch(ctx, b.statusCache,
		statusCacheKey(tenantID, providerName), b.cacheTTL, fetch)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListConnectionStatuses returns snapshots for every connection a tenant
// has, in provider order. This read goes straight to the store; the
// per-connection cache only serves single lookups.
func (b *Broker) ListConnectionStatuses(ctx context.Context, tenantID string) ([]StatusSnapshot, error) {
	conns, err := b.store.ListConnections(tenantID)
	if err != nil {
		return nil, err
	}

	snaps := make([]StatusSnapshot, 0, len(conns))
	for i := range conns {
		snaps = append(snaps, snapshotFromRow(&conns[i]))
	}
	return snaps, nil
}
