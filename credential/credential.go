// Package credential issues and verifies W3C verifiable credentials signed with
// secp256k1 keys bound to DID documents.
//
// A credential is immutable once signed. Revocation lives in a separate ledger
// keyed by credential id, so verifying a credential combines the signed body with
// an out-of-band lookup.
package credential

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Data model constants.
const (
	ContextCredentialsV1     = "https://www.w3.org/2018/credentials/v1"
	TypeVerifiableCredential = "VerifiableCredential"
	ProofTypeSecp256k1       = "EcdsaSecp256k1Signature2019"
	ProofPurposeAssertion    = "assertionMethod"
	IDPrefix                 = "urn:uuid:"
	SubjectIDKey             = "id"
)

// Type is the kind of assertion a credential makes.
type Type string

// Supported credential types.
const (
	TypePersonhood     Type = "PERSONHOOD"
	TypeKYC            Type = "KYC"
	TypeCreditScore    Type = "CREDIT_SCORE"
	TypeTradingLicense Type = "TRADING_LICENSE"
)

// Types lists every supported credential type.
var Types = []Type{TypePersonhood, TypeKYC, TypeCreditScore, TypeTradingLicense}

// Valid reports whether t is one of the supported types.
func (t Type) Valid() bool {
	return slices.Contains(Types, t)
}

// ParseType parses a credential type name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unsupported credential type %q", ErrInvalidRequest, s)
	}

	return t, nil
}

// Subject is the credentialSubject object: the subject DID under "id" plus claims.
type Subject map[string]any

// ID returns the subject DID.
func (s Subject) ID() string {
	id, _ := s[SubjectIDKey].(string)

	return id
}

// Claims returns the subject attributes without "id".
func (s Subject) Claims() map[string]any {
	out := maps.Clone(map[string]any(s))
	delete(out, SubjectIDKey)

	return out
}

// Credential is a W3C verifiable credential.
type Credential struct {
	Context           []string   `json:"@context"`
	ID                string     `json:"id"`
	Type              []string   `json:"type"`
	Issuer            string     `json:"issuer"`
	IssuanceDate      time.Time  `json:"issuanceDate"`
	ExpirationDate    *time.Time `json:"expirationDate,omitempty"`
	CredentialSubject Subject    `json:"credentialSubject"`
	Proof             *Proof     `json:"proof,omitempty"`
}

// Proof is the embedded signature of a credential.
type Proof struct {
	Type               string    `json:"type"`
	Cryptosuite        string    `json:"cryptosuite,omitempty"`
	Created            time.Time `json:"created"`
	VerificationMethod string    `json:"verificationMethod"`
	ProofPurpose       string    `json:"proofPurpose"`
	ProofValue         string    `json:"proofValue,omitempty"`
}

// CredentialType returns the domain type carried next to "VerifiableCredential".
func (c *Credential) CredentialType() (Type, bool) {
	for _, t := range c.Type {
		if Type(t).Valid() {
			return Type(t), true
		}
	}

	return "", false
}

// Clone returns a deep copy of the credential. Claim values are copied through JSON.
func (c *Credential) Clone() (*Credential, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}

	return Parse(raw)
}

// Parse decodes a credential from JSON.
func Parse(raw []byte) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &c, nil
}

// signingInput returns the canonical bytes covered by the proof: the credential with
// its proof block minus proofValue.
func signingInput(c *Credential, canon Canonicalizer) ([]byte, error) {
	body := *c
	if c.Proof != nil {
		p := *c.Proof
		p.ProofValue = ""
		body.Proof = &p
	}

	raw, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential body: %w", err)
	}

	return canon.Canonicalize(raw)
}
