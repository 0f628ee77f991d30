package keys

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
)

// ErrSignerNotFound is returned by Keyring when no signer is registered for a key id.
var ErrSignerNotFound = errors.New("signer not found")

// Signer signs payloads without exposing the private key.
type Signer interface {
	// Sign returns a 65-byte secp256k1 signature over the sha256 digest of data.
	Sign(data []byte) ([]byte, error)
	// PublicKey returns the public half of the signing key.
	PublicKey() *ecdsa.PublicKey
}

// PrivateKeySigner signs with an in-process private key.
type PrivateKeySigner struct {
	priv *ecdsa.PrivateKey
}

// NewPrivateKeySigner wraps priv.
func NewPrivateKeySigner(priv *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{priv: priv}
}

// NewPrivateKeySignerFromHex parses a hex private key and wraps it.
func NewPrivateKeySignerFromHex(privHex string) (*PrivateKeySigner, error) {
	priv, err := ParsePrivateKeyHex(privHex)
	if err != nil {
		return nil, err
	}

	return &PrivateKeySigner{priv: priv}, nil
}

func (s *PrivateKeySigner) Sign(data []byte) ([]byte, error) {
	return SignData(data, s.priv)
}

func (s *PrivateKeySigner) PublicKey() *ecdsa.PublicKey {
	return &s.priv.PublicKey
}

// Keyring maps verification method ids to signers. Safe for concurrent use.
type Keyring struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{signers: make(map[string]Signer)}
}

// Add registers signer under keyID, replacing any previous entry.
func (k *Keyring) Add(keyID string, signer Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.signers[keyID] = signer
}

// Signer returns the signer registered for keyID.
func (k *Keyring) Signer(keyID string) (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	s, ok := k.signers[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignerNotFound, keyID)
	}

	return s, nil
}
