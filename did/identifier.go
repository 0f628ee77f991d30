// Package did mints decentralized identifiers, builds their documents and resolves
// them through a pluggable document store.
//
// A DID has the form <method>:<suffix>, where the suffix is the base58 encoding of
// 16 random bytes. The default method is "did:wallof". Every minted document holds
// one EcdsaSecp256k1VerificationKey2019 verification method ("#key-1") referenced
// from authentication, assertionMethod, capabilityInvocation and capabilityDelegation.
//
// Documents are published through a Submitter, which anchors the document hash on a
// ledger and returns an opaque transaction reference kept in the document metadata
// for audit. The reference is never consulted for correctness.
package did

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	// DefaultMethod is the DID method prefix used when none is configured.
	DefaultMethod = "did:wallof"

	suffixLength = 16
)

// NewIdentifier returns method + ":" + base58(16 random bytes).
func NewIdentifier(method string, r io.Reader) (string, error) {
	if err := validateMethod(method); err != nil {
		return "", err
	}

	if r == nil {
		r = rand.Reader
	}

	b := make([]byte, suffixLength)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to read DID suffix entropy: %w", err)
	}

	return method + ":" + base58.Encode(b), nil
}

// Method returns the "did:<method>" prefix of an identifier.
func Method(did string) (string, error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("invalid DID %q", did)
	}

	return parts[0] + ":" + parts[1], nil
}

func validateMethod(method string) error {
	parts := strings.Split(method, ":")
	if len(parts) != 2 || parts[0] != "did" || parts[1] == "" {
		return errors.New("method must have the form did:<name>")
	}

	return nil
}
