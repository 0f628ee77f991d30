package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
)

// RecoveryKeyLength is the number of random bytes in a recovery key.
const RecoveryKeyLength = 32

// ErrInvalidRecoveryKey is returned for recovery keys that are not base58 or have the wrong length.
var ErrInvalidRecoveryKey = errors.New("invalid recovery key")

// GenerateRecoveryKey returns a base58 encoded 32-byte secret that is unrelated to any signing key.
func GenerateRecoveryKey() (string, error) {
	return GenerateRecoveryKeyFromReader(rand.Reader)
}

// GenerateRecoveryKeyFromReader is GenerateRecoveryKey with an explicit entropy source.
func GenerateRecoveryKeyFromReader(r io.Reader) (string, error) {
	b := make([]byte, RecoveryKeyLength)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	return base58.Encode(b), nil
}

// RecoveryFingerprint returns the sha256 hex digest of a recovery key.
// Stores index identities by fingerprint so the key itself is never persisted.
func RecoveryFingerprint(recoveryKey string) (string, error) {
	b, err := base58.Decode(recoveryKey)
	if err != nil || len(b) != RecoveryKeyLength {
		return "", ErrInvalidRecoveryKey
	}

	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:]), nil
}
