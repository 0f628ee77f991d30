package credential

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// Status is the outcome of a verification.
type Status string

const (
	StatusValid            Status = "VALID"
	StatusStructureInvalid Status = "STRUCTURE_INVALID"
	StatusSignatureInvalid Status = "SIGNATURE_INVALID"
	StatusExpired          Status = "EXPIRED"
	StatusRevoked          Status = "REVOKED"
)

// Result reports the stage a verification stopped at and why.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Valid reports whether every stage passed.
func (r Result) Valid() bool {
	return r.Status == StatusValid
}

func invalid(status Status, format string, args ...any) Result {
	return Result{Status: status, Reason: fmt.Sprintf(format, args...)}
}

// RevocationChecker answers whether a credential id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// Verifier runs the structural, signature, expiry and revocation checks in order
// and stops at the first failing stage.
type Verifier struct {
	resolver did.Resolver
	status   RevocationChecker
	opts     *options
}

func NewVerifier(resolver did.Resolver, status RevocationChecker, opts ...Option) *Verifier {
	return &Verifier{resolver: resolver, status: status, opts: applyOptions(opts)}
}

// Verify checks vc. Validation failures are reported in the Result; the error is
// non-nil only when the resolver or the ledger could not be reached.
func (v *Verifier) Verify(ctx context.Context, vc *Credential) (Result, error) {
	result, err := v.verify(ctx, vc)
	if err != nil {
		v.opts.logger.Error("credential verification aborted", zap.Error(err))

		return Result{}, err
	}

	verificationsTotal.WithLabelValues(string(result.Status)).Inc()

	if !result.Valid() {
		v.opts.logger.Debug("credential failed verification", zap.String("status", string(result.Status)),
			zap.String("reason", result.Reason))
	}

	return result, nil
}

func (v *Verifier) verify(ctx context.Context, vc *Credential) (Result, error) {
	if reason := checkStructure(vc); reason != "" {
		return invalid(StatusStructureInvalid, "%s", reason), nil
	}

	if result, err := v.checkSignature(ctx, vc); err != nil || !result.Valid() {
		return result, err
	}

	if vc.ExpirationDate != nil && !v.opts.clock().Before(*vc.ExpirationDate) {
		return invalid(StatusExpired, "expired at %s", vc.ExpirationDate.UTC().Format(time.RFC3339)), nil
	}

	revoked, err := v.status.IsRevoked(ctx, vc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check revocation status: %w", err)
	}

	if revoked {
		return invalid(StatusRevoked, "credential %s is revoked", vc.ID), nil
	}

	return Result{Status: StatusValid}, nil
}

func (v *Verifier) checkSignature(ctx context.Context, vc *Credential) (Result, error) {
	doc, found, err := v.resolver.Resolve(ctx, vc.Issuer)
	if err != nil {
		if storage.IsUnavailable(err) {
			return Result{}, err
		}

		return invalid(StatusSignatureInvalid, "issuer %s cannot be resolved: %v", vc.Issuer, err), nil
	}

	if !found {
		return invalid(StatusSignatureInvalid, "issuer %s is not registered", vc.Issuer), nil
	}

	vm, ok := doc.VerificationMethodByID(vc.Proof.VerificationMethod)
	if !ok || !doc.IsAssertionMethod(vm.ID) {
		return invalid(StatusSignatureInvalid, "%s is not an assertion method of %s", vc.Proof.VerificationMethod, vc.Issuer), nil
	}

	pub, err := vm.PublicKey()
	if err != nil {
		return invalid(StatusSignatureInvalid, "issuer key is malformed: %v", err), nil
	}

	suite := vc.Proof.Cryptosuite
	if suite == "" {
		suite = SuiteJCS
	}

	canon, ok := v.opts.suites[suite]
	if !ok {
		return invalid(StatusSignatureInvalid, "unsupported cryptosuite %q", suite), nil
	}

	_, sig, err := multibase.Decode(vc.Proof.ProofValue)
	if err != nil {
		return invalid(StatusSignatureInvalid, "proof value is not multibase encoded"), nil
	}

	input, err := signingInput(vc, canon)
	if err != nil {
		return invalid(StatusSignatureInvalid, "credential cannot be canonicalized: %v", err), nil
	}

	if !keys.VerifySignature(input, sig, pub) {
		return invalid(StatusSignatureInvalid, "signature does not match issuer key"), nil
	}

	return Result{Status: StatusValid}, nil
}

// checkStructure returns the first structural violation, or "" when vc is well formed.
func checkStructure(vc *Credential) string {
	if vc == nil {
		return "credential is nil"
	}

	if len(vc.Context) == 0 || vc.Context[0] != ContextCredentialsV1 {
		return fmt.Sprintf("first @context must be %s", ContextCredentialsV1)
	}

	if err := validateID(vc.ID); err != nil {
		return err.Error()
	}

	if !slices.Contains(vc.Type, TypeVerifiableCredential) {
		return fmt.Sprintf("type must include %s", TypeVerifiableCredential)
	}

	if _, ok := vc.CredentialType(); !ok {
		return "type must include a supported credential type"
	}

	if !strings.HasPrefix(vc.Issuer, "did:") {
		return "issuer must be a DID"
	}

	if vc.IssuanceDate.IsZero() {
		return "issuanceDate is required"
	}

	if vc.ExpirationDate != nil && !vc.ExpirationDate.After(vc.IssuanceDate) {
		return "expirationDate must be after issuanceDate"
	}

	if vc.CredentialSubject.ID() == "" {
		return "credentialSubject.id is required"
	}

	return checkProof(vc)
}

func checkProof(vc *Credential) string {
	p := vc.Proof

	switch {
	case p == nil:
		return "proof is required"
	case p.Type != ProofTypeSecp256k1:
		return fmt.Sprintf("unsupported proof type %q", p.Type)
	case p.ProofPurpose != ProofPurposeAssertion:
		return fmt.Sprintf("proofPurpose must be %s", ProofPurposeAssertion)
	case p.ProofValue == "":
		return "proofValue is required"
	}

	controller, err := did.ControllerOf(p.VerificationMethod)
	if err != nil {
		return err.Error()
	}

	if controller != vc.Issuer {
		return "verificationMethod is not controlled by the issuer"
	}

	return ""
}

func validateID(id string) error {
	raw, ok := strings.CutPrefix(id, IDPrefix)
	if !ok {
		return errors.New("id must be a urn:uuid")
	}

	if _, err := uuid.Parse(raw); err != nil {
		return fmt.Errorf("id is not a valid uuid: %w", err)
	}

	return nil
}
