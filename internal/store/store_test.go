package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	s, err := New("sqlite", dsn)
	require.NoError(t, err)
	return s
}

func activeConnection(tenantID, provider string) *models.Connection {
	now := time.Now()
	return &models.Connection{
		TenantID:              tenantID,
		Provider:              provider,
		Status:                models.StatusActive,
		ExternalAccountID:     "acct-1",
		DisplayName:           "Ada Lovelace",
		Email:                 "ada@example.com",
		EncryptedAccessToken:  "v1:access-ciphertext",
		EncryptedRefreshToken: "v1:refresh-ciphertext",
		AccessTokenExpiresAt:  now.Add(time.Hour),
		GrantedScopes:         "mail.read mail.send",
		ConnectedAt:           now,
	}
}

func TestSaveAndLoadConnection(t *testing.T) {
	s := setupTestStore(t)

	saved := activeConnection("t1", "google")
	require.NoError(t, s.SaveConnection(saved))
	assert.NotEmpty(t, saved.ID)

	loaded, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, loaded.Status)
	assert.Equal(t, "v1:access-ciphertext", loaded.EncryptedAccessToken)
	assert.Equal(t, "v1:refresh-ciphertext", loaded.EncryptedRefreshToken)
	assert.Equal(t, []string{"mail.read", "mail.send"}, loaded.ScopeList())
}

func TestLoadConnectionNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.LoadConnection("t1", "google")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestSaveConnectionUpsertsOnTenantProvider(t *testing.T) {
	s := setupTestStore(t)

	first := activeConnection("t1", "google")
	require.NoError(t, s.SaveConnection(first))

	// Reconnect: same (tenant, provider), new account and secrets
	second := activeConnection("t1", "google")
	second.ExternalAccountID = "acct-2"
	second.EncryptedAccessToken = "v2:fresh-ciphertext"
	require.NoError(t, s.SaveConnection(second))

	loaded, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	assert.Equal(t, "acct-2", loaded.ExternalAccountID)
	assert.Equal(t, "v2:fresh-ciphertext", loaded.EncryptedAccessToken)

	// Still exactly one row
	var count int64
	require.NoError(t, s.DB().Model(&models.Connection{}).
		Where("tenant_id = ? AND provider = ?", "t1", "google").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConnectionsIsolatedByProvider(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.SaveConnection(activeConnection("t1", "google")))
	require.NoError(t, s.SaveConnection(activeConnection("t1", "slack")))

	conns, err := s.ListConnections("t1")
	require.NoError(t, err)
	assert.Len(t, conns, 2)
}

func TestClearSecrets(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.SaveConnection(activeConnection("t1", "google")))
	require.NoError(t, s.ClearSecrets("t1", "google", models.StatusDisconnected))

	loaded, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, loaded.Status)
	assert.Empty(t, loaded.EncryptedAccessToken)
	assert.Empty(t, loaded.EncryptedRefreshToken)
	assert.True(t, loaded.AccessTokenExpiresAt.IsZero())
	// Row survives for audit history
	assert.Equal(t, "acct-1", loaded.ExternalAccountID)
}

func TestClearSecretsNotFound(t *testing.T) {
	s := setupTestStore(t)
	assert.ErrorIs(t, s.ClearSecrets("t1", "google", models.StatusDisconnected),
		ErrConnectionNotFound)
}

func TestLegacyShapeNormalizedOnLoad(t *testing.T) {
	s := setupTestStore(t)

	// Simulate a row written by the pre-split schema: ciphertext lives in
	// the metadata blob, dedicated columns are empty.
	legacy := &models.Connection{
		ID:       uuid.New().String(),
		TenantID: "t1",
		Provider: "google",
		Status:   models.StatusActive,
		Metadata: models.ConnectionMetadata{
			models.LegacyMetadataAccessTokenKey:  "v1:legacy-access",
			models.LegacyMetadataRefreshTokenKey: "v1:legacy-refresh",
			"display_hint":                       "Work account",
		},
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.DB().Create(legacy).Error)

	loaded, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	assert.Equal(t, "v1:legacy-access", loaded.EncryptedAccessToken)
	assert.Equal(t, "v1:legacy-refresh", loaded.EncryptedRefreshToken)
	assert.NotContains(t, loaded.Metadata, models.LegacyMetadataAccessTokenKey)
	assert.NotContains(t, loaded.Metadata, models.LegacyMetadataRefreshTokenKey)
	// Non-secret metadata survives the migration
	assert.Equal(t, "Work account", loaded.Metadata["display_hint"])

	// Saving persists the current shape
	require.NoError(t, s.SaveConnection(loaded))

	var raw models.Connection
	require.NoError(t, s.DB().
		Where("tenant_id = ? AND provider = ?", "t1", "google").
		First(&raw).Error)
	assert.Equal(t, "v1:legacy-access", raw.EncryptedAccessToken)
	assert.NotContains(t, raw.Metadata, models.LegacyMetadataAccessTokenKey)
}

func TestForEachConnection(t *testing.T) {
	s := setupTestStore(t)

	for i := 0; i < 5; i++ {
		conn := activeConnection(fmt.Sprintf("tenant-%d", i), "google")
		require.NoError(t, s.SaveConnection(conn))
	}

	var seen int
	err := s.ForEachConnection(2, func(conn *models.Connection) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, seen)
}

func TestForEachConnectionAbortsOnError(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.SaveConnection(activeConnection("t1", "google")))
	require.NoError(t, s.SaveConnection(activeConnection("t2", "google")))

	var seen int
	err := s.ForEachConnection(10, func(conn *models.Connection) error {
		seen++
		return fmt.Errorf("stop")
	})
	require.Error(t, err)
	assert.Equal(t, 1, seen)
}

func TestRegisterDriver(t *testing.T) {
	RegisterDriver("sqlite-alias", func(dsn string) gorm.Dialector {
		return sqlite.Open(dsn)
	})

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	s, err := New("sqlite-alias", dsn)
	require.NoError(t, err)
	require.NoError(t, s.SaveConnection(activeConnection("t1", "google")))

	_, err = GetDialector("unregistered", dsn)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestUpdateConnectionLockedSeesLatestRow(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.SaveConnection(activeConnection("t1", "google")))

	// A stale in-memory copy, as a batch scan would hold.
	stale, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)

	// Another writer replaces the refresh token ciphertext.
	fresh, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	fresh.EncryptedRefreshToken = "v1:rotated-by-provider"
	require.NoError(t, s.SaveConnection(fresh))

	saved, err := s.UpdateConnectionLocked("t1", "google", func(conn *models.Connection) (bool, error) {
		assert.Equal(t, "v1:rotated-by-provider", conn.EncryptedRefreshToken)
		assert.NotEqual(t, stale.EncryptedRefreshToken, conn.EncryptedRefreshToken)
		conn.EncryptedAccessToken = "v2:reencrypted"
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, saved)

	loaded, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	assert.Equal(t, "v2:reencrypted", loaded.EncryptedAccessToken)
	assert.Equal(t, "v1:rotated-by-provider", loaded.EncryptedRefreshToken)
}

func TestUpdateConnectionLockedSkipsUnchangedRows(t *testing.T) {
	s := setupTestStore(t)
	seeded := activeConnection("t1", "google")
	require.NoError(t, s.SaveConnection(seeded))
	before, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)

	saved, err := s.UpdateConnectionLocked("t1", "google", func(conn *models.Connection) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, saved)

	after, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestUpdateConnectionLockedNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.UpdateConnectionLocked("t-missing", "google", func(conn *models.Connection) (bool, error) {
		t.Fatal("callback must not run for a missing row")
		return false, nil
	})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestAuditLogs(t *testing.T) {
	s := setupTestStore(t)

	old := &models.AuditLog{
		ID:        uuid.New().String(),
		EventType: models.EventTokenRefreshed,
		EventTime: time.Now().Add(-48 * time.Hour),
		Severity:  models.SeverityInfo,
		TenantID:  "t1",
		Provider:  "google",
		Success:   true,
	}
	recent := &models.AuditLog{
		ID:        uuid.New().String(),
		EventType: models.EventConnectionDisconnected,
		EventTime: time.Now(),
		Severity:  models.SeverityInfo,
		TenantID:  "t1",
		Provider:  "google",
		Success:   true,
	}
	require.NoError(t, s.CreateAuditLogs([]*models.AuditLog{old, recent}))

	deleted, err := s.DeleteAuditLogsBefore(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

// TestStoreWithPostgres exercises the upsert path against a real PostgreSQL
// instance. Skipped in short mode or when Docker is unavailable.
func TestStoreWithPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Skipping PostgreSQL test: Docker not available (panic: %v)", r)
		}
	}()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("connections"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: %v", err)
	}
	defer func() {
		_ = container.Terminate(ctx)
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New("postgres", dsn)
	require.NoError(t, err)

	conn := activeConnection("t1", "google")
	require.NoError(t, s.SaveConnection(conn))

	// Upsert on conflict
	conn2 := activeConnection("t1", "google")
	conn2.EncryptedAccessToken = "v1:replaced"
	require.NoError(t, s.SaveConnection(conn2))

	loaded, err := s.LoadConnection("t1", "google")
	require.NoError(t, err)
	assert.Equal(t, "v1:replaced", loaded.EncryptedAccessToken)
}
