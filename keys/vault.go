package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-multibase"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultKDFIterations is the PBKDF2 work factor applied when no option overrides it.
	DefaultKDFIterations = 210_000
	// MinKDFIterations is the lowest work factor accepted for encryption or decryption.
	MinKDFIterations = 100_000

	envelopeVersion = 1
	kdfPBKDF2SHA256 = "pbkdf2-sha256"
	cipherAESGCM    = "aes-256-gcm"
	saltLength      = 16
	derivedKeyLen   = 32
)

// ErrDecryption is the single error returned for every decryption failure.
// It carries no detail about which check failed.
var ErrDecryption = errors.New("unable to decrypt private key")

// envelope is the serialized form of an encrypted private key.
type envelope struct {
	Version    int    `json:"v"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iter"`
	Cipher     string `json:"cipher"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ct"`
}

type vaultConfig struct {
	iterations int
	rand       io.Reader
}

// VaultOption configures EncryptPrivateKey.
type VaultOption func(*vaultConfig)

// WithIterations sets the PBKDF2 iteration count. Values below MinKDFIterations are rejected.
func WithIterations(n int) VaultOption {
	return func(c *vaultConfig) { c.iterations = n }
}

// WithRandom sets the source used for salts and nonces.
func WithRandom(r io.Reader) VaultOption {
	return func(c *vaultConfig) { c.rand = r }
}

// EncryptPrivateKey encrypts priv under a key derived from passphrase.
//
// A fresh salt and nonce are drawn on every call, so encrypting the same key twice
// yields different blobs. The blob is a multibase (base64url) encoded JSON envelope
// that carries the KDF parameters alongside the ciphertext.
func EncryptPrivateKey(priv []byte, passphrase string, opts ...VaultOption) (string, error) {
	cfg := &vaultConfig{iterations: DefaultKDFIterations, rand: rand.Reader}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.iterations < MinKDFIterations {
		return "", fmt.Errorf("kdf iterations %d below minimum %d", cfg.iterations, MinKDFIterations)
	}

	if len(priv) == 0 {
		return "", errors.New("private key is empty")
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(cfg.rand, salt); err != nil {
		return "", fmt.Errorf("failed to read salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt, cfg.iterations)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(cfg.rand, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	env := envelope{
		Version:    envelopeVersion,
		KDF:        kdfPBKDF2SHA256,
		Iterations: cfg.iterations,
		Cipher:     cipherAESGCM,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, priv, salt),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key envelope: %w", err)
	}

	return multibase.Encode(multibase.Base64url, raw)
}

// DecryptPrivateKey reverses EncryptPrivateKey. Every failure returns ErrDecryption.
func DecryptPrivateKey(blob, passphrase string) ([]byte, error) {
	_, raw, err := multibase.Decode(blob)
	if err != nil {
		return nil, ErrDecryption
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrDecryption
	}

	if env.Version != envelopeVersion || env.KDF != kdfPBKDF2SHA256 || env.Cipher != cipherAESGCM ||
		env.Iterations < MinKDFIterations || len(env.Salt) != saltLength {
		return nil, ErrDecryption
	}

	aead, err := newAEAD(passphrase, env.Salt, env.Iterations)
	if err != nil || len(env.Nonce) != aead.NonceSize() {
		return nil, ErrDecryption
	}

	priv, err := aead.Open(nil, env.Nonce, env.Ciphertext, env.Salt)
	if err != nil {
		return nil, ErrDecryption
	}

	return priv, nil
}

func newAEAD(passphrase string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, derivedKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return aead, nil
}
