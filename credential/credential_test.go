package credential

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/revocation"
	"github.com/pilacorp/go-identity-sdk/storage"
)

const (
	issuerDID  = "did:example:issuer1"
	subjectDID = "did:example:subject1"
	rogueDID   = "did:example:rogue"
)

type fixture struct {
	ctx      context.Context
	now      time.Time
	registry *did.Registry
	keyring  *keys.Keyring
	ledger   *revocation.Ledger
	ledgerDB *revocation.MemoryStore
	policy   *AllowList
	store    *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:      context.Background(),
		now:      time.Date(2026, 10, 18, 9, 30, 15, 0, time.UTC),
		registry: did.NewRegistry(did.NewMemoryStore()),
		keyring:  keys.NewKeyring(),
		ledgerDB: revocation.NewMemoryStore(),
		policy:   NewAllowList(issuerDID),
		store:    NewMemoryStore(),
	}
	f.ledger = revocation.NewLedger(f.ledgerDB)

	f.registerDID(t, issuerDID, true)
	f.registerDID(t, subjectDID, false)
	f.registerDID(t, rogueDID, true)

	return f
}

func (f *fixture) registerDID(t *testing.T, id string, withSigner bool) {
	t.Helper()

	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	reg, err := f.registry.Register(f.ctx, id, kp.PublicKeyBytes())
	require.NoError(t, err)

	if withSigner {
		f.keyring.Add(reg.Document.AssertionMethod[0], keys.NewPrivateKeySigner(kp.PrivateKey))
	}
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) issuer(opts ...Option) *Issuer {
	opts = append([]Option{WithClock(f.clock), WithCredentialStore(f.store)}, opts...)

	return NewIssuer(f.policy, f.registry, f.keyring, f.ledger, opts...)
}

func (f *fixture) verifier(opts ...Option) *Verifier {
	opts = append([]Option{WithClock(f.clock)}, opts...)

	return NewVerifier(f.registry, f.ledger, opts...)
}

func personhood() IssueRequest {
	return IssueRequest{
		IssuerDID:  issuerDID,
		SubjectDID: subjectDID,
		Type:       TypePersonhood,
		Claims:     map[string]any{"name": "Ada", "age": 36, "verified": true},
		TTL:        ExpirationDays(365),
	}
}

func TestIssueThenVerifyThenRevoke(t *testing.T) {
	f := newFixture(t)

	vc, err := f.issuer().Issue(f.ctx, personhood())
	require.NoError(t, err)

	assert.Equal(t, []string{ContextCredentialsV1}, vc.Context)
	assert.Equal(t, []string{TypeVerifiableCredential, string(TypePersonhood)}, vc.Type)
	assert.Equal(t, issuerDID, vc.Issuer)
	assert.Equal(t, subjectDID, vc.CredentialSubject.ID())
	assert.Equal(t, f.now, vc.IssuanceDate)
	require.NotNil(t, vc.ExpirationDate)
	assert.Equal(t, f.now.AddDate(0, 0, 365), *vc.ExpirationDate)
	require.NotNil(t, vc.Proof)
	assert.Equal(t, issuerDID+"#key-1", vc.Proof.VerificationMethod)
	assert.Equal(t, SuiteJCS, vc.Proof.Cryptosuite)

	verifier := f.verifier()

	result, err := verifier.Verify(f.ctx, vc)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, result.Status, result.Reason)

	changed, err := f.ledger.Revoke(f.ctx, vc.ID, issuerDID)
	require.NoError(t, err)
	assert.True(t, changed)

	for range 3 {
		_, err = f.ledger.Revoke(f.ctx, vc.ID, issuerDID)
		require.NoError(t, err)

		result, err = verifier.Verify(f.ctx, vc)
		require.NoError(t, err)
		assert.Equal(t, StatusRevoked, result.Status)
	}
}

func TestIssueUnauthorizedIssuerLeavesLedgerEmpty(t *testing.T) {
	f := newFixture(t)

	req := personhood()
	req.IssuerDID = rogueDID

	vc, err := f.issuer().Issue(f.ctx, req)
	require.ErrorIs(t, err, ErrUnauthorizedIssuer)
	assert.Nil(t, vc)
	assert.Zero(t, f.ledgerDB.Len())
}

type recordingRegistrar struct {
	next Registrar
	ids  []string
	err  error
}

func (r *recordingRegistrar) Register(ctx context.Context, credentialID, issuerDID string) error {
	if r.err != nil {
		return r.err
	}

	r.ids = append(r.ids, credentialID)

	return r.next.Register(ctx, credentialID, issuerDID)
}

type failingCredentialStore struct {
	*MemoryStore
}

func (failingCredentialStore) Save(context.Context, *Credential) error {
	return storage.Unavailable("save credential", errors.New("connection reset"))
}

func TestIssueStoreFailureLeavesUnusedStatusEntry(t *testing.T) {
	f := newFixture(t)
	ledger := &recordingRegistrar{next: f.ledger}
	store := failingCredentialStore{MemoryStore: NewMemoryStore()}

	issuer := NewIssuer(f.policy, f.registry, f.keyring, ledger, WithClock(f.clock), WithCredentialStore(store))

	vc, err := issuer.Issue(f.ctx, personhood())
	require.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Nil(t, vc)

	require.Len(t, ledger.ids, 1)

	_, err = store.FindByID(f.ctx, ledger.ids[0])
	require.ErrorIs(t, err, storage.ErrNotFound)

	revoked, err := f.ledger.IsRevoked(f.ctx, ledger.ids[0])
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestIssueStatusFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ledger := &recordingRegistrar{err: storage.Unavailable("create entry", errors.New("i/o timeout"))}
	store := &recordingCredentialStore{MemoryStore: NewMemoryStore()}

	issuer := NewIssuer(f.policy, f.registry, f.keyring, ledger, WithClock(f.clock), WithCredentialStore(store))

	vc, err := issuer.Issue(f.ctx, personhood())
	require.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Nil(t, vc)
	assert.Zero(t, store.saves)
}

type recordingCredentialStore struct {
	*MemoryStore
	saves int
}

func (s *recordingCredentialStore) Save(ctx context.Context, vc *Credential) error {
	s.saves++

	return s.MemoryStore.Save(ctx, vc)
}

func TestIssueRoundTripsThroughJSON(t *testing.T) {
	f := newFixture(t)

	vc, err := f.issuer().Issue(f.ctx, personhood())
	require.NoError(t, err)

	raw, err := json.Marshal(vc)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	result, err := f.verifier().Verify(f.ctx, parsed)
	require.NoError(t, err)
	assert.True(t, result.Valid(), result.Reason)

	stored, err := f.store.FindByID(f.ctx, vc.ID)
	require.NoError(t, err)
	assert.Equal(t, vc.ID, stored.ID)
}

func TestIssueRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*IssueRequest)
		err    error
	}{
		{name: "bad issuer", mutate: func(r *IssueRequest) { r.IssuerDID = "issuer1" }, err: ErrInvalidRequest},
		{name: "bad subject", mutate: func(r *IssueRequest) { r.SubjectDID = "" }, err: ErrInvalidRequest},
		{name: "bad type", mutate: func(r *IssueRequest) { r.Type = "DIPLOMA" }, err: ErrInvalidRequest},
		{name: "negative ttl", mutate: func(r *IssueRequest) { r.TTL = -time.Hour }, err: ErrInvalidRequest},
		{name: "claims set id", mutate: func(r *IssueRequest) { r.Claims["id"] = "did:example:other" }, err: ErrInvalidRequest},
		{name: "unregistered issuer", mutate: func(r *IssueRequest) { r.IssuerDID = "did:example:ghost" }, err: ErrIssuerNotResolvable},
		{name: "unregistered subject", mutate: func(r *IssueRequest) { r.SubjectDID = "did:example:ghost" }, err: ErrSubjectNotResolvable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.policy.Allow("did:example:ghost")

			req := personhood()
			tt.mutate(&req)

			_, err := f.issuer().Issue(f.ctx, req)
			require.ErrorIs(t, err, tt.err)
			assert.Zero(t, f.ledgerDB.Len())
		})
	}
}

func TestIssueWithoutSubjectResolution(t *testing.T) {
	f := newFixture(t)

	req := personhood()
	req.SubjectDID = "did:example:offline"

	vc, err := f.issuer(WithSubjectResolution(false)).Issue(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "did:example:offline", vc.CredentialSubject.ID())
}

func TestIssuePerTypePolicy(t *testing.T) {
	f := newFixture(t)
	f.policy.Allow(issuerDID, TypeKYC)

	_, err := f.issuer().Issue(f.ctx, personhood())
	require.ErrorIs(t, err, ErrUnauthorizedIssuer)

	req := personhood()
	req.Type = TypeKYC

	_, err = f.issuer().Issue(f.ctx, req)
	require.NoError(t, err)
}

func TestIssueSigningKeyMismatch(t *testing.T) {
	f := newFixture(t)

	other, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	f.keyring.Add(issuerDID+"#key-1", keys.NewPrivateKeySigner(other.PrivateKey))

	_, err = f.issuer().Issue(f.ctx, personhood())
	require.ErrorIs(t, err, ErrSigningKeyMismatch)

	f.policy.Allow(subjectDID)
	req := personhood()
	req.IssuerDID = subjectDID

	_, err = f.issuer().Issue(f.ctx, req)
	require.ErrorIs(t, err, ErrSigningKeyMismatch)
	require.ErrorIs(t, err, keys.ErrSignerNotFound)
}

func TestIssueClaimSchema(t *testing.T) {
	f := newFixture(t)

	schemas := NewClaimSchemas()
	require.NoError(t, schemas.Register(TypePersonhood, `{
		"type": "object",
		"required": ["name", "age"],
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer", "minimum": 18}
		}
	}`))

	_, err := f.issuer(WithSchemas(schemas)).Issue(f.ctx, personhood())
	require.NoError(t, err)

	req := personhood()
	req.Claims = map[string]any{"name": "Kid", "age": 9}

	_, err = f.issuer(WithSchemas(schemas)).Issue(f.ctx, req)
	require.ErrorIs(t, err, ErrInvalidClaims)

	require.Error(t, schemas.Register(TypeKYC, `{"type": 12}`))
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t)

	req := personhood()
	req.TTL = time.Hour

	vc, err := f.issuer().Issue(f.ctx, req)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)

	result, err := f.verifier().Verify(f.ctx, vc)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, result.Status)

	// expiry wins over revocation
	_, err = f.ledger.Revoke(f.ctx, vc.ID, issuerDID)
	require.NoError(t, err)

	result, err = f.verifier().Verify(f.ctx, vc)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, result.Status)
}

func TestVerifyTampered(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*Credential)
		status Status
	}{
		{name: "claim changed", mutate: func(vc *Credential) { vc.CredentialSubject["age"] = 99.0 }, status: StatusSignatureInvalid},
		{name: "issuance moved", mutate: func(vc *Credential) { vc.IssuanceDate = vc.IssuanceDate.Add(-time.Hour) }, status: StatusSignatureInvalid},
		{name: "proof value garbage", mutate: func(vc *Credential) { vc.Proof.ProofValue = "not-multibase" }, status: StatusSignatureInvalid},
		{name: "unknown suite", mutate: func(vc *Credential) { vc.Proof.Cryptosuite = "bbs-2023" }, status: StatusSignatureInvalid},
		{name: "unknown key", mutate: func(vc *Credential) { vc.Proof.VerificationMethod = issuerDID + "#key-9" }, status: StatusSignatureInvalid},
		{name: "foreign key", mutate: func(vc *Credential) { vc.Proof.VerificationMethod = rogueDID + "#key-1" }, status: StatusStructureInvalid},
		{name: "no subject id", mutate: func(vc *Credential) { delete(vc.CredentialSubject, "id") }, status: StatusStructureInvalid},
		{name: "bad id", mutate: func(vc *Credential) { vc.ID = "vc-1" }, status: StatusStructureInvalid},
		{name: "no domain type", mutate: func(vc *Credential) { vc.Type = []string{TypeVerifiableCredential} }, status: StatusStructureInvalid},
		{name: "no proof", mutate: func(vc *Credential) { vc.Proof = nil }, status: StatusStructureInvalid},
		{name: "wrong purpose", mutate: func(vc *Credential) { vc.Proof.ProofPurpose = "authentication" }, status: StatusStructureInvalid},
		{name: "expires before issuance", mutate: func(vc *Credential) {
			exp := vc.IssuanceDate
			vc.ExpirationDate = &exp
		}, status: StatusStructureInvalid},
		{name: "wrong context", mutate: func(vc *Credential) { vc.Context = []string{"https://example.com"} }, status: StatusStructureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vc, err := f.issuer().Issue(f.ctx, personhood())
			require.NoError(t, err)

			tt.mutate(vc)

			result, err := f.verifier().Verify(f.ctx, vc)
			require.NoError(t, err)
			assert.Equal(t, tt.status, result.Status, result.Reason)
			assert.NotEmpty(t, result.Reason)
		})
	}

	result, err := f.verifier().Verify(f.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusStructureInvalid, result.Status)
}

type unavailableResolver struct{}

func (unavailableResolver) Resolve(context.Context, string) (*did.Document, bool, error) {
	return nil, false, storage.Unavailable("resolve", errors.New("dial tcp: connection refused"))
}

type unavailableLedger struct{}

func (unavailableLedger) IsRevoked(context.Context, string) (bool, error) {
	return false, storage.Unavailable("is revoked", errors.New("i/o timeout"))
}

func TestVerifyStoreUnavailable(t *testing.T) {
	f := newFixture(t)

	vc, err := f.issuer().Issue(f.ctx, personhood())
	require.NoError(t, err)

	_, err = NewVerifier(unavailableResolver{}, f.ledger).Verify(f.ctx, vc)
	require.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = NewVerifier(f.registry, unavailableLedger{}).Verify(f.ctx, vc)
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"PERSONHOOD", "kyc", " credit_score ", "Trading_License"} {
		got, err := ParseType(s)
		require.NoError(t, err, s)
		assert.True(t, got.Valid())
	}

	_, err := ParseType("DIPLOMA")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubjectClaims(t *testing.T) {
	s := Subject{"id": subjectDID, "age": 36}

	assert.Equal(t, subjectDID, s.ID())
	assert.Equal(t, map[string]any{"age": 36}, s.Claims())
	assert.Contains(t, s, "id")
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := NewMemoryStore()

	vc, err := f.issuer().Issue(ctx, personhood())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, vc))
	require.ErrorIs(t, store.Save(ctx, vc), storage.ErrConflict)

	got, err := store.FindByID(ctx, vc.ID)
	require.NoError(t, err)

	got.CredentialSubject["name"] = "Mallory"

	again, err := store.FindByID(ctx, vc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.CredentialSubject["name"])

	_, err = store.FindByID(ctx, "urn:uuid:missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
