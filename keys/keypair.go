// Package keys holds the secp256k1 key material used by identities and issuers.
//
// Private keys only leave this package in two forms: encrypted under a passphrase
// (see EncryptPrivateKey) or wrapped by a Signer that never exposes the scalar.
package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
)

// Algorithm is the curve every key in this package is bound to.
const Algorithm = "secp256k1"

const (
	privateKeyLength = 32
	// maxScalarAttempts bounds the retry loop when entropy lands outside [1, N-1].
	maxScalarAttempts = 8
)

var (
	// ErrKeyGeneration is returned when the entropy source fails.
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrInvalidPublicKey is returned for public keys that do not decode to a curve point.
	ErrInvalidPublicKey = errors.New("invalid public key")
	// ErrInvalidPrivateKey is returned for private keys outside the curve order.
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// KeyPair is a secp256k1 key pair.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// GenerateKeyPair creates a key pair from the system CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairFromReader(rand.Reader)
}

// GenerateKeyPairFromReader creates a key pair reading entropy from r.
func GenerateKeyPairFromReader(r io.Reader) (*KeyPair, error) {
	seed := make([]byte, privateKeyLength)

	for range maxScalarAttempts {
		if _, err := io.ReadFull(r, seed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
		}

		var scalar secp256k1.ModNScalar
		if overflow := scalar.SetByteSlice(seed); overflow || scalar.IsZero() {
			continue
		}

		priv, err := crypto.ToECDSA(seed)
		if err != nil {
			continue
		}

		return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
	}

	return nil, fmt.Errorf("%w: entropy source produced no valid scalar", ErrKeyGeneration)
}

// PublicKeyBytes returns the 33-byte compressed public key.
func (kp *KeyPair) PublicKeyBytes() []byte {
	return crypto.CompressPubkey(kp.PublicKey)
}

// PrivateKeyBytes returns the 32-byte private scalar.
func (kp *KeyPair) PrivateKeyBytes() []byte {
	return crypto.FromECDSA(kp.PrivateKey)
}

// PrivateKeyHex returns the private scalar as hex without a 0x prefix.
func (kp *KeyPair) PrivateKeyHex() string {
	return hex.EncodeToString(kp.PrivateKeyBytes())
}

// Address returns the Ethereum account derived from the public key.
func (kp *KeyPair) Address() string {
	return crypto.PubkeyToAddress(*kp.PublicKey).Hex()
}

// ParsePublicKey parses a compressed (33 bytes) or uncompressed (65 bytes) public key.
func ParsePublicKey(b []byte) (*ecdsa.PublicKey, error) {
	if len(b) != 33 && len(b) != 65 {
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidPublicKey, len(b))
	}

	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}

	return pub.ToECDSA(), nil
}

// ParsePublicKeyHex parses a hex public key, with or without the 0x prefix.
func ParsePublicKeyHex(s string) (*ecdsa.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}

	return ParsePublicKey(b)
}

// ParsePrivateKey parses a 32-byte secp256k1 private key.
func ParsePrivateKey(b []byte) (*ecdsa.PrivateKey, error) {
	if len(b) != privateKeyLength {
		return nil, fmt.Errorf("%w: private key must be %d bytes", ErrInvalidPrivateKey, privateKeyLength)
	}

	priv, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}

	return priv, nil
}

// ParsePrivateKeyHex parses a hex private key, with or without the 0x prefix.
func ParsePrivateKeyHex(s string) (*ecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}

	return ParsePrivateKey(b)
}

// CompressPublicKey returns the 33-byte compressed form of pub.
func CompressPublicKey(pub *ecdsa.PublicKey) []byte {
	return crypto.CompressPubkey(pub)
}
