package did

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
	"github.com/multiformats/go-multibase"

	"github.com/pilacorp/go-identity-sdk/keys"
)

// Document contexts and types.
const (
	ContextDIDv1           = "https://www.w3.org/ns/did/v1"
	ContextSecp256k1v2019  = "https://w3id.org/security/suites/secp256k1-2019/v1"
	VerificationKeyType    = "EcdsaSecp256k1VerificationKey2019"
	LinkedDomainsService   = "LinkedDomains"
	DefaultKeyFragment     = "key-1"
	linkedDomainsServiceID = "linked-domain"
)

var (
	// ErrKeyBinding is returned when a public key cannot be bound to a document.
	ErrKeyBinding = errors.New("malformed public key")
	// ErrInvalidDocument is returned by Validate.
	ErrInvalidDocument = errors.New("invalid DID document")
)

// Document is a W3C DID document.
type Document struct {
	Context              []string             `json:"@context"`
	ID                   string               `json:"id"`
	Controller           string               `json:"controller"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod"`
	Authentication       []string             `json:"authentication"`
	AssertionMethod      []string             `json:"assertionMethod"`
	CapabilityInvocation []string             `json:"capabilityInvocation"`
	CapabilityDelegation []string             `json:"capabilityDelegation"`
	Service              []Service            `json:"service,omitempty"`
	Metadata             *Metadata            `json:"didDocumentMetadata,omitempty"`
}

// VerificationMethod is a key entry of a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
	PublicKeyHex       string `json:"publicKeyHex,omitempty"`
}

// Service is a service endpoint entry.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Metadata tracks versioning and the audit reference of the last submission.
type Metadata struct {
	Created   string `json:"created,omitempty"`
	Updated   string `json:"updated,omitempty"`
	VersionID int    `json:"versionId"`
	TxRef     string `json:"txRef,omitempty"`
}

type documentConfig struct {
	serviceEndpoint string
	keyFragment     string
}

// DocumentOption configures BuildDocument.
type DocumentOption func(*documentConfig)

// WithServiceEndpoint adds a LinkedDomains service pointing at endpoint.
func WithServiceEndpoint(endpoint string) DocumentOption {
	return func(c *documentConfig) { c.serviceEndpoint = endpoint }
}

// WithKeyFragment overrides the "key-1" fragment of the verification method id.
func WithKeyFragment(fragment string) DocumentOption {
	return func(c *documentConfig) { c.keyFragment = fragment }
}

// BuildDocument creates the document for did with one verification method wrapping
// publicKey, referenced from all four verification relationships.
func BuildDocument(did string, publicKey []byte, opts ...DocumentOption) (*Document, error) {
	cfg := &documentConfig{keyFragment: DefaultKeyFragment}
	for _, opt := range opts {
		opt(cfg)
	}

	if did == "" {
		return nil, errors.New("did is empty")
	}

	pub, err := keys.ParsePublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyBinding, err)
	}

	encoded, err := multibase.Encode(multibase.Base58BTC, keys.CompressPublicKey(pub))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyBinding, err)
	}

	vmID := did + "#" + cfg.keyFragment
	doc := &Document{
		Context:    []string{ContextDIDv1, ContextSecp256k1v2019},
		ID:         did,
		Controller: did,
		VerificationMethod: []VerificationMethod{{
			ID:                 vmID,
			Type:               VerificationKeyType,
			Controller:         did,
			PublicKeyMultibase: encoded,
		}},
		Authentication:       []string{vmID},
		AssertionMethod:      []string{vmID},
		CapabilityInvocation: []string{vmID},
		CapabilityDelegation: []string{vmID},
	}

	if cfg.serviceEndpoint != "" {
		doc.Service = []Service{{
			ID:              did + "#" + linkedDomainsServiceID,
			Type:            LinkedDomainsService,
			ServiceEndpoint: cfg.serviceEndpoint,
		}}
	}

	return doc, nil
}

// Validate checks the structural invariants of the document and returns the first violation.
func (doc *Document) Validate() error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidDocument)
	}

	if strings.TrimSpace(doc.Controller) == "" {
		return fmt.Errorf("%w: controller is empty", ErrInvalidDocument)
	}

	if len(doc.VerificationMethod) == 0 {
		return fmt.Errorf("%w: no verification method", ErrInvalidDocument)
	}

	ids := make(map[string]struct{}, len(doc.VerificationMethod))
	for _, vm := range doc.VerificationMethod {
		if vm.ID == "" || vm.Type == "" || vm.Controller == "" {
			return fmt.Errorf("%w: verification method %q is incomplete", ErrInvalidDocument, vm.ID)
		}

		if _, err := vm.PublicKey(); err != nil {
			return fmt.Errorf("%w: verification method %q: %w", ErrInvalidDocument, vm.ID, err)
		}

		ids[vm.ID] = struct{}{}
	}

	relationships := map[string][]string{
		"authentication":       doc.Authentication,
		"assertionMethod":      doc.AssertionMethod,
		"capabilityInvocation": doc.CapabilityInvocation,
		"capabilityDelegation": doc.CapabilityDelegation,
	}
	for name, refs := range relationships {
		for _, ref := range refs {
			if _, ok := ids[ref]; !ok {
				return fmt.Errorf("%w: %s references unknown verification method %q", ErrInvalidDocument, name, ref)
			}
		}
	}

	return nil
}

// ValidateDocument reports whether doc satisfies the DID document invariants.
func ValidateDocument(doc *Document) bool {
	return doc.Validate() == nil
}

// VerificationMethodByID returns the verification method with the given id.
func (doc *Document) VerificationMethodByID(id string) (*VerificationMethod, bool) {
	for i := range doc.VerificationMethod {
		if doc.VerificationMethod[i].ID == id {
			return &doc.VerificationMethod[i], true
		}
	}

	return nil, false
}

// IsAssertionMethod reports whether id is listed under assertionMethod.
func (doc *Document) IsAssertionMethod(id string) bool {
	return slices.Contains(doc.AssertionMethod, id)
}

// Hash returns the keccak256 hash of the canonical form of the document.
func (doc *Document) Hash() (string, error) {
	raw, err := doc.Canonical()
	if err != nil {
		return "", err
	}

	return strings.ToLower(crypto.Keccak256Hash(raw).Hex()), nil
}

// Canonical returns the JCS form of the document.
func (doc *Document) Canonical() ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DID document: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize DID document: %w", err)
	}

	return canonical, nil
}

// Clone returns a deep copy of the document.
func (doc *Document) Clone() *Document {
	if doc == nil {
		return nil
	}

	out := *doc
	out.Context = slices.Clone(doc.Context)
	out.VerificationMethod = slices.Clone(doc.VerificationMethod)
	out.Authentication = slices.Clone(doc.Authentication)
	out.AssertionMethod = slices.Clone(doc.AssertionMethod)
	out.CapabilityInvocation = slices.Clone(doc.CapabilityInvocation)
	out.CapabilityDelegation = slices.Clone(doc.CapabilityDelegation)
	out.Service = slices.Clone(doc.Service)

	if doc.Metadata != nil {
		md := *doc.Metadata
		out.Metadata = &md
	}

	return &out
}

// PublicKey decodes the key material of the verification method.
func (vm *VerificationMethod) PublicKey() (*ecdsa.PublicKey, error) {
	switch {
	case vm.PublicKeyMultibase != "":
		_, raw, err := multibase.Decode(vm.PublicKeyMultibase)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", keys.ErrInvalidPublicKey, err)
		}

		return keys.ParsePublicKey(raw)
	case vm.PublicKeyHex != "":
		raw, err := hex.DecodeString(strings.TrimPrefix(vm.PublicKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", keys.ErrInvalidPublicKey, err)
		}

		return keys.ParsePublicKey(raw)
	default:
		return nil, fmt.Errorf("%w: no key material", keys.ErrInvalidPublicKey)
	}
}

// ControllerOf returns the DID part of a verification method id.
func ControllerOf(verificationMethodID string) (string, error) {
	didPart, _, found := strings.Cut(verificationMethodID, "#")
	if !found || didPart == "" {
		return "", fmt.Errorf("invalid verification method id %q", verificationMethodID)
	}

	if !strings.HasPrefix(didPart, "did:") {
		return "", fmt.Errorf("extracted DID %q is invalid, must start with 'did:'", didPart)
	}

	return didPart, nil
}
