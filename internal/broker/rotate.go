package broker

import (
	"errors"

	"github.com/Adam151997/Y-CRM-sub000/internal/crypto"
	"github.com/Adam151997/Y-CRM-sub000/internal/models"
)

// RotateConnectionKey re-encrypts a connection's token ciphertext from one
// key version to another, in memory. Ciphertext already on a different
// version is left alone, so re-running a partially completed rotation is
// safe. Returns whether anything changed; the caller persists the row.
func (b *Broker) RotateConnectionKey(conn *models.Connection, fromVersion, toVersion int) (bool, error) {
	changed := false

	rotate := func(ciphertext string) (string, error) {
		if ciphertext == "" {
			return "", nil
		}
		out, err := b.enc.Reencrypt(ciphertext, fromVersion, toVersion)
		if err != nil {
			return "", err
		}
		if out != ciphertext {
			changed = true
		}
		return out, nil
	}

	access, err := rotate(conn.EncryptedAccessToken)
	if err != nil {
		return false, rotationError(conn, err)
	}
	refresh, err := rotate(conn.EncryptedRefreshToken)
	if err != nil {
		return false, rotationError(conn, err)
	}

	conn.EncryptedAccessToken = access
	conn.EncryptedRefreshToken = refresh

	// Rows that predate the schema split may still hold ciphertext under
	// metadata keys; those secrets need the new key too.
	for _, key := range []string{models.LegacyMetadataAccessTokenKey, models.LegacyMetadataRefreshTokenKey} {
		raw, ok := conn.Metadata[key].(string)
		if !ok || raw == "" {
			continue
		}
		out, err := rotate(raw)
		if err != nil {
			return false, rotationError(conn, err)
		}
		conn.Metadata[key] = out
	}

	return changed, nil
}

func rotationError(conn *models.Connection, err error) error {
	if errors.Is(err, crypto.ErrDecrypt) {
		return &UnavailableError{
			TenantID: conn.TenantID,
			Provider: conn.Provider,
			Reason:   ReasonDecryptFailure,
			Err:      err,
		}
	}
	return err
}
