package jwt

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/keys"
)

// SigningMethodES256K implements ES256K (secp256k1, sha256) for golang-jwt. It signs
// through a keys.Signer so private keys never reach the token code.
type SigningMethodES256K struct{}

// ES256K is the registered ES256K signing method.
var ES256K = &SigningMethodES256K{}

func init() {
	jwt.RegisterSigningMethod(ES256K.Alg(), func() jwt.SigningMethod {
		return ES256K
	})
}

func (m *SigningMethodES256K) Alg() string {
	return "ES256K"
}

// Sign expects a keys.Signer and returns the 64-byte R || S signature.
func (m *SigningMethodES256K) Sign(signingString string, key any) ([]byte, error) {
	signer, ok := key.(keys.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: expected keys.Signer, got %T", jwt.ErrInvalidKeyType, key)
	}

	sig, err := signer.Sign([]byte(signingString))
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	return sig[:64], nil
}

// Verify expects an *ecdsa.PublicKey.
func (m *SigningMethodES256K) Verify(signingString string, signature []byte, key any) error {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: expected *ecdsa.PublicKey, got %T", jwt.ErrInvalidKeyType, key)
	}

	if len(signature) != 64 {
		return errors.New("invalid signature length")
	}

	if !keys.VerifySignature([]byte(signingString), signature, pub) {
		return jwt.ErrSignatureInvalid
	}

	return nil
}
