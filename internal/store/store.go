// Package store persists connection rows and audit logs via GORM. Only
// ciphertext and non-secret metadata are stored; plaintext secrets never
// reach this package.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func New(driver, dsn string) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.Connection{},
		&models.AuditLog{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Connection operations

// LoadConnection returns the connection for a (tenant, provider) pair.
// Rows still carrying the legacy metadata-embedded secret shape are
// normalized to the current shape in memory; the next SaveConnection
// persists the migration.
func (s *Store) LoadConnection(tenantID, provider string) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	normalizeLegacyShape(&conn)
	return &conn, nil
}

// SaveConnection upserts a connection, atomic per (tenant_id, provider) row.
// Rows loaded from the store update in place; new rows insert with a
// conflict clause on (tenant_id, provider) so two concurrent first-time
// authorizations cannot produce duplicate rows.
func (s *Store) SaveConnection(conn *models.Connection) error {
	conn.UpdatedAt = time.Now()

	if conn.ID != "" {
		if err := s.db.Save(conn).Error; err != nil {
			return fmt.Errorf("failed to save connection: %w", err)
		}
		return nil
	}

	conn.ID = uuid.New().String()
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"external_account_id",
			"display_name",
			"email",
			"encrypted_access_token",
			"encrypted_refresh_token",
			"access_token_expires_at",
			"granted_scopes",
			"metadata",
			"connected_at",
			"updated_at",
		}),
	}).Create(conn).Error
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

// ClearSecrets zeroes both ciphertext fields and sets the given status
// without deleting the row, so connection history survives disconnects.
// Legacy metadata-embedded secrets are wiped too.
func (s *Store) ClearSecrets(tenantID, provider string, status models.ConnectionStatus) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conn models.Connection
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND provider = ?", tenantID, provider).
			First(&conn).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConnectionNotFound
			}
			return fmt.Errorf("failed to load connection: %w", err)
		}

		conn.EncryptedAccessToken = ""
		conn.EncryptedRefreshToken = ""
		conn.AccessTokenExpiresAt = time.Time{}
		conn.Status = status
		if conn.Metadata != nil {
			delete(conn.Metadata, models.LegacyMetadataAccessTokenKey)
			delete(conn.Metadata, models.LegacyMetadataRefreshTokenKey)
		}
		conn.UpdatedAt = time.Now()

		return tx.Save(&conn).Error
	})
}

// UpdateConnectionLocked reloads the (tenant, provider) row under a row
// lock, applies fn to the fresh copy, and saves it in the same
// transaction. fn returns whether the row changed; unchanged rows are not
// written. Writers in other processes cannot interleave between the read
// and the save.
func (s *Store) UpdateConnectionLocked(tenantID, provider string, fn func(conn *models.Connection) (bool, error)) (bool, error) {
	saved := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conn models.Connection
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND provider = ?", tenantID, provider).
			First(&conn).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConnectionNotFound
			}
			return fmt.Errorf("failed to load connection: %w", err)
		}
		normalizeLegacyShape(&conn)

		changed, err := fn(&conn)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		conn.UpdatedAt = time.Now()
		if err := tx.Save(&conn).Error; err != nil {
			return fmt.Errorf("failed to save connection: %w", err)
		}
		saved = true
		return nil
	})
	return saved, err
}

// ListConnections returns all connections for a tenant, newest first.
func (s *Store) ListConnections(tenantID string) ([]models.Connection, error) {
	var conns []models.Connection
	err := s.db.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&conns).Error
	if err != nil {
		return nil, err
	}
	for i := range conns {
		normalizeLegacyShape(&conns[i])
	}
	return conns, nil
}

// ForEachConnection streams every connection row in batches. Used by the
// key-rotation sweep. Returning an error from fn aborts the walk.
func (s *Store) ForEachConnection(batchSize int, fn func(conn *models.Connection) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	var batch []models.Connection
	result := s.db.Order("tenant_id, provider").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				normalizeLegacyShape(&batch[i])
				if err := fn(&batch[i]); err != nil {
					return err
				}
			}
			return nil
		})
	return result.Error
}

// Audit log operations

// CreateAuditLogs batch-inserts audit entries
func (s *Store) CreateAuditLogs(logs []*models.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.db.Create(logs).Error
}

// DeleteAuditLogsBefore deletes audit entries older than the cutoff and
// returns the number of rows removed
func (s *Store) DeleteAuditLogsBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("event_time < ?", cutoff).Delete(&models.AuditLog{})
	return result.RowsAffected, result.Error
}

// Health checks the database connection
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// DB returns the underlying GORM database connection (for transactions)
func (s *Store) DB() *gorm.DB {
	return s.db
}
