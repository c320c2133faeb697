package store

import "github.com/Adam151997/Y-CRM-sub000/internal/models"

// normalizeLegacyShape moves token ciphertext out of the metadata blob into
// the dedicated columns. Rows written before the schema split stored both
// ciphertexts under metadata keys; this is a one-time lazy migration that
// becomes durable the next time the row is saved. Reports whether the row
// was in the legacy shape.
func normalizeLegacyShape(conn *models.Connection) bool {
	if !conn.HasLegacySecrets() {
		return false
	}

	if token, ok := conn.Metadata[models.LegacyMetadataAccessTokenKey].(string); ok {
		conn.EncryptedAccessToken = token
	}
	if token, ok := conn.Metadata[models.LegacyMetadataRefreshTokenKey].(string); ok {
		conn.EncryptedRefreshToken = token
	}
	delete(conn.Metadata, models.LegacyMetadataAccessTokenKey)
	delete(conn.Metadata, models.LegacyMetadataRefreshTokenKey)
	return true
}
