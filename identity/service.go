// Package identity is the entry point used by applications: it creates and
// recovers self-owned identities and drives credential issuance, verification,
// revocation and selective disclosure on their behalf.
package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/credential"
	vcjwt "github.com/pilacorp/go-identity-sdk/credential/jwt"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/disclosure"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/revocation"
	"github.com/pilacorp/go-identity-sdk/storage"
)

const tracerName = "github.com/pilacorp/go-identity-sdk/identity"

var (
	ErrInvalidPassphrase = errors.New("passphrase must not be empty")
	ErrRecoveryFailed    = errors.New("identity recovery failed")
	ErrIdentityNotFound  = errors.New("identity not found")
)

// Identity is returned to the owner of a freshly generated or recovered identity.
// RecoveryKey is only set when a new recovery key was generated.
type Identity struct {
	DID          string        `json:"did"`
	Document     *did.Document `json:"didDocument"`
	EncryptedKey string        `json:"encryptedKey"`
	RecoveryKey  string        `json:"recoveryKey,omitempty"`
	TxRef        string        `json:"txRef,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Config wires the collaborators of a Service.
type Config struct {
	Registry   *did.Registry
	Identities Store
	Issuer     *credential.Issuer
	Verifier   *credential.Verifier
	Ledger     *revocation.Ledger
	Prover     *disclosure.Prover
	// Signers holds issuer keys, used to export credentials as VC-JWTs.
	Signers credential.SignerSource
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithVaultOptions sets the options used whenever a private key is encrypted.
func WithVaultOptions(opts ...keys.VaultOption) Option {
	return func(s *Service) {
		s.vaultOpts = opts
	}
}

// Service implements the identity operations over injected stores and components.
type Service struct {
	Config

	logger    *zap.Logger
	tracer    trace.Tracer
	clock     func() time.Time
	vaultOpts []keys.VaultOption
}

func NewService(cfg Config, opts ...Option) *Service {
	s := &Service{
		Config: cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		clock:  time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GenerateIdentity creates a key pair, mints a DID for it and stores the private key
// encrypted under passphrase. The returned recovery key is shown once and never stored.
func (s *Service) GenerateIdentity(ctx context.Context, passphrase string) (_ *Identity, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.GenerateIdentity")
	defer func() { endSpan(span, err) }()

	if passphrase == "" {
		return nil, ErrInvalidPassphrase
	}

	kp, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	encrypted, err := keys.EncryptPrivateKey(kp.PrivateKeyBytes(), passphrase, s.vaultOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	recoveryKey, envelope, fingerprint, err := s.sealRecovery(kp.PrivateKeyBytes())
	if err != nil {
		return nil, err
	}

	reg, err := s.Registry.MintDID(ctx, kp.PublicKeyBytes())
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("did", reg.DID))

	now := s.clock().UTC()
	rec := Record{
		DID:                 reg.DID,
		EncryptedKey:        encrypted,
		RecoveryEnvelope:    envelope,
		RecoveryFingerprint: fingerprint,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.Identities.Create(ctx, rec); err != nil {
		s.logger.Error("DID minted but identity record not stored", zap.String("did", reg.DID), zap.Error(err))

		return nil, fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("identity generated", zap.String("did", reg.DID))

	return &Identity{
		DID:          reg.DID,
		Document:     reg.Document,
		EncryptedKey: encrypted,
		RecoveryKey:  recoveryKey,
		TxRef:        reg.TxRef,
		CreatedAt:    now,
	}, nil
}

// VerifyIdentity reports whether did resolves to a valid document.
func (s *Service) VerifyIdentity(ctx context.Context, id string) (_ bool, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.VerifyIdentity", trace.WithAttributes(attribute.String("did", id)))
	defer func() { endSpan(span, err) }()

	doc, found, err := s.Registry.Resolve(ctx, id)
	if err != nil || !found {
		return false, err
	}

	return did.ValidateDocument(doc), nil
}

// ResolveDID returns the current document of a DID.
func (s *Service) ResolveDID(ctx context.Context, id string) (_ *did.Document, _ bool, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.ResolveDID", trace.WithAttributes(attribute.String("did", id)))
	defer func() { endSpan(span, err) }()

	return s.Registry.Resolve(ctx, id)
}

// RecoverIdentity opens the identity sealed under recoveryKey and re-encrypts its
// private key under newPassphrase. The recovery key stays valid until rotated; a
// rotation or recovery of the same identity committed in between yields
// storage.ErrConflict and leaves the stored record untouched.
func (s *Service) RecoverIdentity(ctx context.Context, recoveryKey, newPassphrase string) (_ *Identity, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.RecoverIdentity")
	defer func() { endSpan(span, err) }()

	if newPassphrase == "" {
		return nil, ErrInvalidPassphrase
	}

	rec, priv, err := s.openRecovery(ctx, recoveryKey)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("did", rec.DID))

	doc, err := s.checkKeyBinding(ctx, rec.DID, priv)
	if err != nil {
		return nil, err
	}

	encrypted, err := keys.EncryptPrivateKey(priv, newPassphrase, s.vaultOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	rec.EncryptedKey = encrypted
	rec.UpdatedAt = s.clock().UTC()

	if err := s.Identities.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("identity recovered", zap.String("did", rec.DID))

	return &Identity{
		DID:          rec.DID,
		Document:     doc,
		EncryptedKey: encrypted,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

// RotateRecoveryKey replaces the recovery key of did. The current key must be
// presented and stops working once the new one is stored. Like RecoverIdentity it
// fails with storage.ErrConflict when the record changed after it was read.
func (s *Service) RotateRecoveryKey(ctx context.Context, id, recoveryKey string) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.RotateRecoveryKey", trace.WithAttributes(attribute.String("did", id)))
	defer func() { endSpan(span, err) }()

	rec, priv, err := s.openRecovery(ctx, recoveryKey)
	if err != nil {
		return "", err
	}

	if rec.DID != id {
		return "", ErrRecoveryFailed
	}

	next, envelope, fingerprint, err := s.sealRecovery(priv)
	if err != nil {
		return "", err
	}

	rec.RecoveryEnvelope = envelope
	rec.RecoveryFingerprint = fingerprint
	rec.UpdatedAt = s.clock().UTC()

	if err := s.Identities.Update(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("recovery key rotated", zap.String("did", id))

	return next, nil
}

// SignAsIdentity decrypts encryptedKey with passphrase and signs data.
func (s *Service) SignAsIdentity(ctx context.Context, data []byte, encryptedKey, passphrase string) (_ []byte, err error) {
	_, span := s.tracer.Start(ctx, "identity.SignAsIdentity")
	defer func() { endSpan(span, err) }()

	raw, err := keys.DecryptPrivateKey(encryptedKey, passphrase)
	if err != nil {
		return nil, err
	}

	priv, err := keys.ParsePrivateKey(raw)
	if err != nil {
		return nil, keys.ErrDecryption
	}

	return keys.SignData(data, priv)
}

func (s *Service) IssueCredential(ctx context.Context, req credential.IssueRequest) (_ *credential.Credential, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.IssueCredential", trace.WithAttributes(
		attribute.String("issuer", req.IssuerDID), attribute.String("type", string(req.Type))))
	defer func() { endSpan(span, err) }()

	return s.Issuer.Issue(ctx, req)
}

func (s *Service) VerifyCredential(ctx context.Context, vc *credential.Credential) (_ credential.Result, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.VerifyCredential")
	defer func() { endSpan(span, err) }()

	result, err := s.Verifier.Verify(ctx, vc)
	span.SetAttributes(attribute.String("status", string(result.Status)))

	return result, err
}

// RevokeCredential reports whether this call changed the credential to revoked.
func (s *Service) RevokeCredential(ctx context.Context, id, issuerDID string) (_ bool, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.RevokeCredential", trace.WithAttributes(
		attribute.String("credential_id", id), attribute.String("issuer", issuerDID)))
	defer func() { endSpan(span, err) }()

	return s.Ledger.Revoke(ctx, id, issuerDID)
}

func (s *Service) ProveAttributes(ctx context.Context, vc *credential.Credential, names []string) (_ *disclosure.Proof, err error) {
	_, span := s.tracer.Start(ctx, "identity.ProveAttributes", trace.WithAttributes(
		attribute.StringSlice("attributes", names)))
	defer func() { endSpan(span, err) }()

	return s.Prover.ProveAttributes(vc, names)
}

func (s *Service) VerifyProof(ctx context.Context, proof *disclosure.Proof) (_ bool, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.VerifyProof")
	defer func() { endSpan(span, err) }()

	return s.Prover.VerifyProof(ctx, proof)
}

// ExportCredentialJWT re-encodes an issued credential as a VC-JWT signed with the
// issuer key that produced its proof.
func (s *Service) ExportCredentialJWT(ctx context.Context, vc *credential.Credential) (_ string, err error) {
	_, span := s.tracer.Start(ctx, "identity.ExportCredentialJWT")
	defer func() { endSpan(span, err) }()

	if vc == nil || vc.Proof == nil {
		return "", fmt.Errorf("%w: credential has no proof", credential.ErrInvalidRequest)
	}

	signer, err := s.Signers.Signer(vc.Proof.VerificationMethod)
	if err != nil {
		return "", err
	}

	return vcjwt.Encode(vc, signer)
}

// VerifyCredentialJWT checks the token signature, then verifies the credential it
// carries. Expiry is judged on the credential, as for VerifyCredential.
func (s *Service) VerifyCredentialJWT(ctx context.Context, token string) (_ credential.Result, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.VerifyCredentialJWT")
	defer func() { endSpan(span, err) }()

	vc, err := vcjwt.Decode(ctx, token, s.Registry)
	if errors.Is(err, vcjwt.ErrInvalidToken) {
		return credential.Result{Status: credential.StatusSignatureInvalid, Reason: err.Error()}, nil
	}

	if err != nil {
		return credential.Result{}, err
	}

	return s.Verifier.Verify(ctx, vc)
}

func (s *Service) sealRecovery(priv []byte) (recoveryKey, envelope, fingerprint string, err error) {
	recoveryKey, err = keys.GenerateRecoveryKey()
	if err != nil {
		return "", "", "", err
	}

	envelope, err = keys.EncryptPrivateKey(priv, recoveryKey, s.vaultOpts...)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to seal recovery envelope: %w", err)
	}

	fingerprint, err = keys.RecoveryFingerprint(recoveryKey)
	if err != nil {
		return "", "", "", err
	}

	return recoveryKey, envelope, fingerprint, nil
}

// openRecovery maps every lookup or decryption failure to ErrRecoveryFailed so
// callers cannot tell which recovery keys exist.
func (s *Service) openRecovery(ctx context.Context, recoveryKey string) (Record, []byte, error) {
	fingerprint, err := keys.RecoveryFingerprint(recoveryKey)
	if err != nil {
		return Record{}, nil, ErrRecoveryFailed
	}

	rec, err := s.Identities.FindByRecoveryFingerprint(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, nil, ErrRecoveryFailed
	}

	if err != nil {
		return Record{}, nil, fmt.Errorf("failed to load identity: %w", err)
	}

	priv, err := keys.DecryptPrivateKey(rec.RecoveryEnvelope, recoveryKey)
	if err != nil {
		return Record{}, nil, ErrRecoveryFailed
	}

	return rec, priv, nil
}

// checkKeyBinding confirms the recovered private key still matches the DID document.
func (s *Service) checkKeyBinding(ctx context.Context, id string, priv []byte) (*did.Document, error) {
	doc, found, err := s.Registry.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, id)
	}

	key, err := keys.ParsePrivateKey(priv)
	if err != nil {
		return nil, ErrRecoveryFailed
	}

	want := keys.CompressPublicKey(&key.PublicKey)

	for _, vm := range doc.VerificationMethod {
		pub, err := vm.PublicKey()
		if err == nil && bytes.Equal(keys.CompressPublicKey(pub), want) {
			return doc, nil
		}
	}

	return nil, ErrRecoveryFailed
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}
