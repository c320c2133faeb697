package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConnectionStatus is the lifecycle state of a provider connection.
type ConnectionStatus string

const (
	// StatusActive means the connection holds a usable (or refreshable) token.
	StatusActive ConnectionStatus = "ACTIVE"
	// StatusError means the last refresh failed terminally (invalid_grant).
	// Only a fresh authorization leaves this state.
	StatusError ConnectionStatus = "ERROR"
	// StatusDisconnected means the tenant disconnected; secrets are wiped.
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
)

// ConnectionMetadata stores non-secret descriptive fields as JSON.
// Rows written before the schema split also carried token ciphertext under
// the "access_token"/"refresh_token" keys; the store normalizes those on load.
type ConnectionMetadata map[string]any

// Value implements the driver.Valuer interface for database storage
func (m ConnectionMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil //nolint:nilnil // nil driver.Value represents SQL NULL
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *ConnectionMetadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal ConnectionMetadata value: %v", value)
	}

	result := make(ConnectionMetadata)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}

	*m = result
	return nil
}

// Legacy metadata keys used by the pre-split schema.
const (
	LegacyMetadataAccessTokenKey  = "access_token"
	LegacyMetadataRefreshTokenKey = "refresh_token"
)

// Connection represents one tenant's credential relationship with one
// external provider. Unique per (tenant_id, provider); never hard-deleted.
type Connection struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`
	TenantID string `gorm:"not null;uniqueIndex:idx_connections_tenant_provider,priority:1"`
	Provider string `gorm:"not null;uniqueIndex:idx_connections_tenant_provider,priority:2"` // "google", "slack"

	Status ConnectionStatus `gorm:"type:varchar(20);index;not null"`

	// Provider-side account identity (snapshot for UI display and
	// reconnect detection)
	ExternalAccountID string `gorm:"index"`
	DisplayName       string
	Email             string

	// Token ciphertext ("v<keyVersion>:" prefix + base64 payload).
	// Plaintext never touches these fields.
	EncryptedAccessToken  string `gorm:"type:text"`
	EncryptedRefreshToken string `gorm:"type:text"`

	AccessTokenExpiresAt time.Time

	// GrantedScopes is the space-separated authoritative scope record.
	GrantedScopes string

	Metadata ConnectionMetadata `gorm:"type:json"`

	ConnectedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the gorm table name
func (Connection) TableName() string {
	return "connections"
}

// ScopeList splits GrantedScopes into individual scope strings.
func (c *Connection) ScopeList() []string {
	if c.GrantedScopes == "" {
		return nil
	}
	return strings.Fields(c.GrantedScopes)
}

// HasScope reports whether the connection was granted the given scope.
func (c *Connection) HasScope(scope string) bool {
	for _, s := range c.ScopeList() {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenExpiresWithin reports whether the access token expires before
// now+buffer. A zero expiry is treated as already expired.
func (c *Connection) TokenExpiresWithin(buffer time.Duration) bool {
	if c.AccessTokenExpiresAt.IsZero() {
		return true
	}
	return !c.AccessTokenExpiresAt.After(time.Now().Add(buffer))
}

// HasLegacySecrets reports whether token ciphertext still lives in the
// metadata blob instead of the dedicated columns.
func (c *Connection) HasLegacySecrets() bool {
	if c.EncryptedAccessToken != "" || c.EncryptedRefreshToken != "" {
		return false
	}
	if c.Metadata == nil {
		return false
	}
	_, hasAccess := c.Metadata[LegacyMetadataAccessTokenKey]
	_, hasRefresh := c.Metadata[LegacyMetadataRefreshTokenKey]
	return hasAccess || hasRefresh
}
