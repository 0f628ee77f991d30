package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keys"
)

// SignerSource looks up the signer bound to a verification method id.
type SignerSource interface {
	Signer(keyID string) (keys.Signer, error)
}

// Registrar records issued credential ids as not revoked.
type Registrar interface {
	Register(ctx context.Context, credentialID, issuerDID string) error
}

// CredentialStore persists issued credentials.
type CredentialStore interface {
	Save(ctx context.Context, vc *Credential) error
	FindByID(ctx context.Context, id string) (*Credential, error)
}

// IssueRequest describes a credential to issue. A zero TTL issues a credential
// without expiration.
type IssueRequest struct {
	IssuerDID  string         `json:"issuerDid"`
	SubjectDID string         `json:"subjectDid"`
	Type       Type           `json:"type"`
	Claims     map[string]any `json:"claims"`
	TTL        time.Duration  `json:"ttl"`
}

// ExpirationDays converts a whole number of days into a TTL.
func ExpirationDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// Issuer builds and signs credentials for authorized issuers.
type Issuer struct {
	policy   IssuerPolicy
	resolver did.Resolver
	signers  SignerSource
	ledger   Registrar
	opts     *options
}

func NewIssuer(policy IssuerPolicy, resolver did.Resolver, signers SignerSource, ledger Registrar, opts ...Option) *Issuer {
	return &Issuer{
		policy:   policy,
		resolver: resolver,
		signers:  signers,
		ledger:   ledger,
		opts:     applyOptions(opts),
	}
}

// Issue signs a credential and registers its id with the revocation ledger.
// Nothing is registered when the issuer is not authorized.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Credential, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ok, err := i.policy.IsAuthorizedIssuer(ctx, req.IssuerDID, req.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to check issuer policy: %w", err)
	}

	if !ok {
		i.opts.logger.Warn("rejected unauthorized issuer", zap.String("issuer", req.IssuerDID),
			zap.String("type", string(req.Type)))

		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedIssuer, req.IssuerDID)
	}

	issuerDoc, found, err := i.resolver.Resolve(ctx, req.IssuerDID)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrIssuerNotResolvable, req.IssuerDID)
	}

	if i.opts.requireSubject {
		_, found, err = i.resolver.Resolve(ctx, req.SubjectDID)
		if err != nil {
			return nil, err
		}

		if !found {
			return nil, fmt.Errorf("%w: %s", ErrSubjectNotResolvable, req.SubjectDID)
		}
	}

	vm, signer, err := i.assertionSigner(issuerDoc)
	if err != nil {
		return nil, err
	}

	claims, err := copyClaims(req.Claims)
	if err != nil {
		return nil, err
	}

	if i.opts.schemas != nil {
		if err := i.opts.schemas.Validate(req.Type, claims); err != nil {
			return nil, err
		}
	}

	vc := i.build(req, claims, vm.ID)
	if err := i.sign(vc, signer); err != nil {
		return nil, err
	}

	// The status entry is written before the credential is stored: a failed Save
	// leaves an entry for an id that was never handed out, while the reverse order
	// could persist a credential that can never be revoked.
	if err := i.ledger.Register(ctx, vc.ID, vc.Issuer); err != nil {
		return nil, fmt.Errorf("failed to register credential status: %w", err)
	}

	if i.opts.store != nil {
		if err := i.opts.store.Save(ctx, vc); err != nil {
			return nil, fmt.Errorf("failed to store credential: %w", err)
		}
	}

	i.opts.logger.Info("issued credential", zap.String("id", vc.ID), zap.String("issuer", vc.Issuer),
		zap.String("type", string(req.Type)))

	return vc, nil
}

// assertionSigner picks the first assertion method of the issuer document that has
// a matching signer in the keyring.
func (i *Issuer) assertionSigner(doc *did.Document) (*did.VerificationMethod, keys.Signer, error) {
	var lastErr error

	for _, id := range doc.AssertionMethod {
		vm, ok := doc.VerificationMethodByID(id)
		if !ok {
			continue
		}

		pub, err := vm.PublicKey()
		if err != nil {
			lastErr = err

			continue
		}

		signer, err := i.signers.Signer(vm.ID)
		if err != nil {
			lastErr = err

			continue
		}

		if !bytes.Equal(keys.CompressPublicKey(pub), keys.CompressPublicKey(signer.PublicKey())) {
			lastErr = fmt.Errorf("key for %s differs from the registered one", vm.ID)

			continue
		}

		return vm, signer, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("document %s has no assertion method", doc.ID)
	}

	return nil, nil, fmt.Errorf("%w: %w", ErrSigningKeyMismatch, lastErr)
}

func (i *Issuer) build(req IssueRequest, claims map[string]any, vmID string) *Credential {
	issued := i.opts.clock().UTC().Truncate(time.Second)

	subject := Subject(claims)
	subject[SubjectIDKey] = req.SubjectDID

	vc := &Credential{
		Context:           []string{ContextCredentialsV1},
		ID:                IDPrefix + uuid.NewString(),
		Type:              []string{TypeVerifiableCredential, string(req.Type)},
		Issuer:            req.IssuerDID,
		IssuanceDate:      issued,
		CredentialSubject: subject,
		Proof: &Proof{
			Type:               ProofTypeSecp256k1,
			Cryptosuite:        i.opts.canonicalizer.Suite(),
			Created:            issued,
			VerificationMethod: vmID,
			ProofPurpose:       ProofPurposeAssertion,
		},
	}

	if req.TTL > 0 {
		exp := issued.Add(req.TTL)
		vc.ExpirationDate = &exp
	}

	return vc
}

func (i *Issuer) sign(vc *Credential, signer keys.Signer) error {
	input, err := signingInput(vc, i.opts.canonicalizer)
	if err != nil {
		return err
	}

	sig, err := signer.Sign(input)
	if err != nil {
		return fmt.Errorf("failed to sign credential: %w", err)
	}

	value, err := multibase.Encode(multibase.Base58BTC, sig)
	if err != nil {
		return fmt.Errorf("failed to encode proof value: %w", err)
	}

	vc.Proof.ProofValue = value

	return nil
}

func validateRequest(req IssueRequest) error {
	switch {
	case !strings.HasPrefix(req.IssuerDID, "did:"):
		return fmt.Errorf("%w: invalid issuer DID %q", ErrInvalidRequest, req.IssuerDID)
	case !strings.HasPrefix(req.SubjectDID, "did:"):
		return fmt.Errorf("%w: invalid subject DID %q", ErrInvalidRequest, req.SubjectDID)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unsupported credential type %q", ErrInvalidRequest, req.Type)
	case req.TTL < 0:
		return fmt.Errorf("%w: negative ttl", ErrInvalidRequest)
	}

	if _, ok := req.Claims[SubjectIDKey]; ok {
		return fmt.Errorf("%w: claims must not set %q", ErrInvalidRequest, SubjectIDKey)
	}

	return nil
}

// copyClaims detaches the claims from the caller and normalizes values to their
// JSON form so a parsed credential canonicalizes to the same bytes.
func copyClaims(claims map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(claims)+1)
	if len(claims) == 0 {
		return out, nil
	}

	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return out, nil
}
