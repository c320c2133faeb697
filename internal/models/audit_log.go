package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authorization events
	EventConnectionAuthorized EventType = "CONNECTION_AUTHORIZED"
	EventAuthorizationFailed  EventType = "AUTHORIZATION_FAILED"

	// Refresh events
	EventTokenRefreshed     EventType = "TOKEN_REFRESHED"
	EventTokenRefreshFailed EventType = "TOKEN_REFRESH_FAILED"

	// Disconnect events
	EventConnectionDisconnected EventType = "CONNECTION_DISCONNECTED"
	EventTokenRevokeFailed      EventType = "TOKEN_REVOKE_FAILED"

	// Key management events
	EventKeyRotated EventType = "KEY_ROTATED"

	// Security events
	EventDecryptFailure    EventType = "DECRYPT_FAILURE"
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"
	EventInvalidState      EventType = "INVALID_STATE_TOKEN"
)

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarning  EventSeverity = "WARNING"
	SeverityError    EventSeverity = "ERROR"
	SeverityCritical EventSeverity = "CRITICAL"
)

// AuditDetails stores additional event-specific information as JSON
type AuditDetails map[string]any

// Value implements the driver.Valuer interface for database storage
func (a AuditDetails) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil //nolint:nilnil // nil driver.Value represents SQL NULL
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface for database retrieval
func (a *AuditDetails) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal AuditDetails value: %v", value)
	}

	result := make(AuditDetails)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}

	*a = result
	return nil
}

// AuditLog is one immutable audit trail entry for a connection lifecycle
// event. There is no UpdatedAt; rows are write-once.
type AuditLog struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	EventType EventType     `gorm:"type:varchar(50);index;not null" json:"event_type"`
	EventTime time.Time     `gorm:"index;not null"                  json:"event_time"`
	Severity  EventSeverity `gorm:"type:varchar(20);not null"       json:"severity"`

	TenantID string `gorm:"type:varchar(64);index" json:"tenant_id"`
	Provider string `gorm:"type:varchar(32);index" json:"provider"`

	Details      AuditDetails `gorm:"type:json"      json:"details"`
	Success      bool         `gorm:"index;not null" json:"success"`
	ErrorMessage string       `gorm:"type:text"      json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "audit_logs"
}
