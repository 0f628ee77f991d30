package disclosure

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"time"

	"github.com/multiformats/go-multibase"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/storage"
)

const (
	// DefaultMaxAge bounds how old a proof may be when it is verified.
	DefaultMaxAge = 15 * time.Minute

	clockSkew = time.Minute
)

// CredentialStore looks up the credential a proof refers to.
type CredentialStore interface {
	FindByID(ctx context.Context, id string) (*credential.Credential, error)
}

// Prover creates and checks disclosure proofs.
type Prover struct {
	creds    CredentialStore
	nonces   NonceStore
	resolver did.Resolver
	maxAge   time.Duration
	rand     io.Reader
	clock    func() time.Time
	logger   *zap.Logger
}

// Option configures a Prover.
type Option func(*Prover)

// WithResolver enables verification of holder-signed proofs.
func WithResolver(r did.Resolver) Option {
	return func(p *Prover) {
		p.resolver = r
	}
}

// WithMaxAge overrides DefaultMaxAge. Zero disables the age check and keeps
// consumed nonces forever.
func WithMaxAge(d time.Duration) Option {
	return func(p *Prover) {
		p.maxAge = d
	}
}

func WithRandom(r io.Reader) Option {
	return func(p *Prover) {
		p.rand = r
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Prover) {
		p.clock = clock
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Prover) {
		p.logger = l
	}
}

func NewProver(creds CredentialStore, nonces NonceStore, opts ...Option) *Prover {
	p := &Prover{
		creds:  creds,
		nonces: nonces,
		maxAge: DefaultMaxAge,
		rand:   rand.Reader,
		clock:  time.Now,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ProveAttributes reveals the named subject attributes of vc. Names must be subject
// keys other than "id"; duplicates are collapsed.
func (p *Prover) ProveAttributes(vc *credential.Credential, names []string) (*Proof, error) {
	if vc == nil || vc.ID == "" {
		return nil, fmt.Errorf("%w: credential is required", ErrInvalidProof)
	}

	names = lo.Uniq(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no attributes requested", ErrUnknownAttribute)
	}

	claims := vc.CredentialSubject.Claims()
	if missing, _ := lo.Difference(names, lo.Keys(claims)); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAttribute, missing)
	}

	revealed, err := copyValues(lo.PickByKeys(claims, names))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(p.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	slices.Sort(names)

	return &Proof{
		CredentialID:       vc.ID,
		Issuer:             vc.Issuer,
		Subject:            vc.CredentialSubject.ID(),
		RevealedAttributes: names,
		Revealed:           revealed,
		Timestamp:          p.clock().UTC().Truncate(time.Millisecond),
		Nonce:              hex.EncodeToString(nonce),
	}, nil
}

// Sign attaches a holder signature made with a key of the subject DID.
func (p *Prover) Sign(proof *Proof, verificationMethodID string, signer keys.Signer) error {
	proof.VerificationMethod = verificationMethodID
	proof.ProofValue = ""

	input, err := proof.signingInput()
	if err != nil {
		return err
	}

	sig, err := signer.Sign(input)
	if err != nil {
		return fmt.Errorf("failed to sign proof: %w", err)
	}

	proof.ProofValue, err = multibase.Encode(multibase.Base58BTC, sig)

	return err
}

// VerifyProof checks the proof against the stored credential and consumes its
// nonce. It returns false for malformed, stale, mismatching or replayed proofs; the
// error is reserved for store failures.
func (p *Prover) VerifyProof(ctx context.Context, proof *Proof) (bool, error) {
	if reason := p.checkShape(proof); reason != "" {
		p.logger.Debug("rejected disclosure proof", zap.String("reason", reason))

		return false, nil
	}

	vc, err := p.creds.FindByID(ctx, proof.CredentialID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to load credential: %w", err)
	}

	if reason := matchCredential(proof, vc); reason != "" {
		p.logger.Debug("disclosure proof does not match credential", zap.String("id", proof.CredentialID),
			zap.String("reason", reason))

		return false, nil
	}

	if proof.ProofValue != "" {
		ok, err := p.verifyHolder(ctx, proof)
		if err != nil || !ok {
			return false, err
		}
	}

	fresh, err := p.nonces.Consume(ctx, proof.Nonce, p.nonceTTL())
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}

	if !fresh {
		p.logger.Warn("replayed disclosure proof", zap.String("id", proof.CredentialID))
	}

	return fresh, nil
}

func (p *Prover) checkShape(proof *Proof) string {
	switch {
	case proof == nil:
		return "proof is nil"
	case proof.CredentialID == "":
		return "credentialId is required"
	case len(proof.RevealedAttributes) == 0:
		return "no revealed attributes"
	case proof.Timestamp.IsZero():
		return "timestamp is required"
	}

	if raw, err := hex.DecodeString(proof.Nonce); err != nil || len(raw) != nonceLength {
		return "nonce must be 16 hex encoded bytes"
	}

	if lo.Contains(proof.RevealedAttributes, credential.SubjectIDKey) {
		return "id cannot be revealed as an attribute"
	}

	if len(lo.Uniq(proof.RevealedAttributes)) != len(proof.RevealedAttributes) ||
		len(proof.Revealed) != len(proof.RevealedAttributes) ||
		!lo.Every(lo.Keys(proof.Revealed), proof.RevealedAttributes) {
		return "revealed values do not match revealedAttributes"
	}

	if p.maxAge > 0 {
		now := p.clock()
		if proof.Timestamp.After(now.Add(clockSkew)) {
			return "timestamp is in the future"
		}

		if now.Sub(proof.Timestamp) > p.maxAge {
			return "proof is too old"
		}
	}

	return ""
}

func matchCredential(proof *Proof, vc *credential.Credential) string {
	if proof.Issuer != vc.Issuer || proof.Subject != vc.CredentialSubject.ID() {
		return "issuer or subject differs"
	}

	claims := vc.CredentialSubject.Claims()

	revealed, err := copyValues(proof.Revealed)
	if err != nil {
		return err.Error()
	}

	stored, err := copyValues(claims)
	if err != nil {
		return err.Error()
	}

	for _, name := range proof.RevealedAttributes {
		want, ok := stored[name]
		if !ok {
			return fmt.Sprintf("attribute %q not in credential", name)
		}

		if !reflect.DeepEqual(want, revealed[name]) {
			return fmt.Sprintf("attribute %q has a different value", name)
		}
	}

	return ""
}

func (p *Prover) verifyHolder(ctx context.Context, proof *Proof) (bool, error) {
	if p.resolver == nil {
		return false, nil
	}

	controller, err := did.ControllerOf(proof.VerificationMethod)
	if err != nil || controller != proof.Subject {
		return false, nil
	}

	pub, err := did.PublicKeyFor(ctx, p.resolver, proof.VerificationMethod)
	if err != nil {
		if storage.IsUnavailable(err) {
			return false, err
		}

		return false, nil
	}

	_, sig, err := multibase.Decode(proof.ProofValue)
	if err != nil {
		return false, nil
	}

	input, err := proof.signingInput()
	if err != nil {
		return false, nil
	}

	return keys.VerifySignature(input, sig, pub), nil
}

func (p *Prover) nonceTTL() time.Duration {
	if p.maxAge <= 0 {
		return 0
	}

	return p.maxAge + clockSkew
}

// copyValues normalizes values to their decoded JSON form so equal claims compare
// equal regardless of the Go types they were built from.
func copyValues(values map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}

	out := make(map[string]any, len(values))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}

	return out, nil
}
