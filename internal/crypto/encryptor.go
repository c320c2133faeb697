// Package crypto provides versioned AES-256-GCM encryption for token
// secrets. Every ciphertext carries the version of the key that produced it,
// so retired keys can be phased out via Reencrypt without data loss.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrDecrypt is the base class for all decryption failures. Both
	// ErrUnknownKeyVersion and ErrDecryptFailed match it via errors.Is.
	ErrDecrypt = errors.New("crypto: decrypt failed")

	// ErrUnknownKeyVersion indicates the ciphertext references a key version
	// not present in the keyring. Usually means lost key material.
	ErrUnknownKeyVersion = fmt.Errorf("%w: unknown key version", ErrDecrypt)

	// ErrDecryptFailed indicates corrupted ciphertext or a GCM
	// authentication tag mismatch.
	ErrDecryptFailed = fmt.Errorf("%w: authentication failed", ErrDecrypt)
)

// Ciphertext format: "v<version>:" prefix followed by base64(nonce || sealed).
const versionPrefix = "v"

// PBKDF2 parameters for key derivation, matching the token hashing
// parameters used elsewhere in the codebase.
const (
	kdfIterations = 10000
	kdfKeyLen     = 32
)

var kdfSalt = []byte("ycrm-connections-key")

// Encryptor encrypts and decrypts token secrets under a versioned keyring.
// It is stateless beyond key lookup and safe for concurrent use.
type Encryptor struct {
	keys          map[int]cipher.AEAD
	activeVersion int
}

// NewEncryptor builds an Encryptor from raw key material. keys maps a key
// version to its passphrase; activeVersion selects the key used for new
// ciphertexts and must be present in keys.
func NewEncryptor(keys map[int]string, activeVersion int) (*Encryptor, error) {
	if len(keys) == 0 {
		return nil, errors.New("crypto: no encryption keys configured")
	}

	aeads := make(map[int]cipher.AEAD, len(keys))
	for version, secret := range keys {
		if secret == "" {
			return nil, fmt.Errorf("crypto: empty key material for version %d", version)
		}

		derived := pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, kdfKeyLen, sha256.New)
		block, err := aes.NewCipher(derived)
		if err != nil {
			return nil, fmt.Errorf("crypto: create cipher for version %d: %w", version, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("crypto: create GCM for version %d: %w", version, err)
		}
		aeads[version] = gcm
	}

	if _, ok := aeads[activeVersion]; !ok {
		return nil, fmt.Errorf("crypto: active key version %d not in keyring", activeVersion)
	}

	return &Encryptor{keys: aeads, activeVersion: activeVersion}, nil
}

// ActiveVersion returns the key version used for new ciphertexts.
func (e *Encryptor) ActiveVersion() int {
	return e.activeVersion
}

// KeyVersions returns all versions in the keyring, ascending.
func (e *Encryptor) KeyVersions() []int {
	versions := make([]int, 0, len(e.keys))
	for v := range e.keys {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

// Encrypt seals plaintext under the active key. Each call uses a fresh
// random nonce, so identical plaintexts yield different ciphertexts.
// Empty plaintext is returned as the empty string without encryption.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	return e.encryptWith(plaintext, e.activeVersion)
}

func (e *Encryptor) encryptWith(plaintext string, version int) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, ok := e.keys[version]
	if !ok {
		return "", fmt.Errorf("crypto: encrypt with unknown key version %d", version)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionPrefix + strconv.Itoa(version) + ":" +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt under any keyring version.
// Empty ciphertext decrypts to the empty string.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	version, payload, err := parseCiphertext(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, ok := e.keys[version]
	if !ok {
		return "", fmt.Errorf("%w: v%d", ErrUnknownKeyVersion, version)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrDecryptFailed)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptFailed)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: v%d", ErrDecryptFailed, version)
	}

	return string(plaintext), nil
}

// Reencrypt decrypts a ciphertext produced under fromVersion and seals it
// again under toVersion. Ciphertexts not on fromVersion are returned
// unchanged, which makes rotation idempotent and resumable.
func (e *Encryptor) Reencrypt(ciphertext string, fromVersion, toVersion int) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	version, _, err := parseCiphertext(ciphertext)
	if err != nil {
		return "", err
	}
	if version != fromVersion {
		return ciphertext, nil
	}

	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}

	return e.encryptWith(plaintext, toVersion)
}

// Version extracts the key version of a ciphertext without decrypting it.
func Version(ciphertext string) (int, error) {
	version, _, err := parseCiphertext(ciphertext)
	return version, err
}

func parseCiphertext(ciphertext string) (int, string, error) {
	rest, ok := strings.CutPrefix(ciphertext, versionPrefix)
	if !ok {
		return 0, "", fmt.Errorf("%w: missing version prefix", ErrDecryptFailed)
	}
	versionStr, payload, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", fmt.Errorf("%w: malformed ciphertext", ErrDecryptFailed)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("%w: malformed key version", ErrDecryptFailed)
	}
	return version, payload, nil
}
