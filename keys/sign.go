package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of signatures produced by SignData ([R || S || V]).
const SignatureLength = 65

// SignData signs the sha256 digest of data with secp256k1.
func SignData(data []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("private key is nil")
	}

	hash := sha256.Sum256(data)

	sig, err := crypto.Sign(hash[:], priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign data: %w", err)
	}

	return sig, nil
}

// VerifySignature reports whether sig is a valid signature of data by pub.
// Both 65-byte (with recovery id) and 64-byte signatures are accepted.
// Malformed input yields false.
func VerifySignature(data, sig []byte, pub *ecdsa.PublicKey) bool {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return false
	}

	switch len(sig) {
	case SignatureLength:
		sig = sig[:64]
	case 64:
	default:
		return false
	}

	hash := sha256.Sum256(data)

	return verifyDigest(pub, hash[:], sig)
}

// verifyDigest guards against panics from points that are not on the curve.
func verifyDigest(pub *ecdsa.PublicKey, digest, sig []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	return crypto.VerifySignature(crypto.CompressPubkey(pub), digest, sig)
}
