package credential

import (
	"time"

	"go.uber.org/zap"
)

// Option configures an Issuer or a Verifier.
type Option func(*options)

type options struct {
	clock          func() time.Time
	logger         *zap.Logger
	canonicalizer  Canonicalizer
	suites         map[string]Canonicalizer
	schemas        *ClaimSchemas
	store          CredentialStore
	requireSubject bool
}

func defaultOptions() *options {
	return &options{
		clock:          time.Now,
		logger:         zap.NewNop(),
		canonicalizer:  JCS{},
		suites:         map[string]Canonicalizer{SuiteJCS: JCS{}},
		requireSubject: true,
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCanonicalizer selects the canonicalization used to sign credentials. A
// verifier accepts proofs made with any canonicalizer it was given.
func WithCanonicalizer(c Canonicalizer) Option {
	return func(o *options) {
		o.canonicalizer = c
		o.suites[c.Suite()] = c
	}
}

// WithSchemas enables claim validation before signing.
func WithSchemas(schemas *ClaimSchemas) Option {
	return func(o *options) {
		o.schemas = schemas
	}
}

// WithCredentialStore persists every issued credential.
func WithCredentialStore(store CredentialStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithSubjectResolution controls whether the subject DID must resolve before issuance.
// It is required by default.
func WithSubjectResolution(required bool) Option {
	return func(o *options) {
		o.requireSubject = required
	}
}
