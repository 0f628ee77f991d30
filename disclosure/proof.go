// Package disclosure builds selective-disclosure proofs over issued credentials.
//
// Disclosure works by redaction: a proof carries the values of the requested
// attributes and nothing else, bound to the credential id, a timestamp and a random
// nonce. It is not a zero-knowledge construction. A verifier checks the revealed
// values against the credential held by the credential store, and each nonce is
// accepted once.
package disclosure

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/multiformats/go-multibase"
)

const nonceLength = 16

var (
	ErrUnknownAttribute = errors.New("unknown credential attribute")
	ErrInvalidProof     = errors.New("invalid disclosure proof")
)

// Proof reveals a subset of a credential's subject attributes.
type Proof struct {
	CredentialID       string         `json:"credentialId"`
	Issuer             string         `json:"issuer"`
	Subject            string         `json:"subject"`
	RevealedAttributes []string       `json:"revealedAttributes"`
	Revealed           map[string]any `json:"revealed"`
	Timestamp          time.Time      `json:"timestamp"`
	Nonce              string         `json:"nonce"`

	// Set when the holder signed the proof with a key of the subject DID.
	VerificationMethod string `json:"verificationMethod,omitempty"`
	ProofValue         string `json:"proofValue,omitempty"`
}

// Encode returns the proof as a base64url multibase string for transport.
func (p *Proof) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proof: %w", err)
	}

	return multibase.Encode(multibase.Base64url, raw)
}

// DecodeProof parses a proof produced by Encode.
func DecodeProof(encoded string) (*Proof, error) {
	_, raw, err := multibase.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}

	var p Proof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}

	return &p, nil
}

// signingInput is the JCS form of the proof without its holder signature value.
func (p *Proof) signingInput() ([]byte, error) {
	body := *p
	body.ProofValue = ""

	raw, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof: %w", err)
	}

	return jcs.Transform(raw)
}
