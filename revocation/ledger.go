// Package revocation tracks the revocation flag of every issued credential.
//
// Revocation is kept outside the signed credential so the credential never changes
// after issuance. Each entry records the issuing DID; only that DID may revoke, and
// once revoked an entry never flips back.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/storage"
)

var (
	// ErrUnauthorizedRevocation is returned when a DID other than the issuer tries to revoke.
	ErrUnauthorizedRevocation = errors.New("only the issuer may revoke this credential")
	// ErrUnknownCredential is returned when revoking an id that was never registered.
	ErrUnknownCredential = errors.New("credential not registered")
	// ErrAlreadyRegistered is returned when registering an id twice.
	ErrAlreadyRegistered = errors.New("credential already registered")
)

// Entry is the ledger record of one credential.
type Entry struct {
	CredentialID string     `json:"credentialId"`
	IssuerDID    string     `json:"issuer"`
	Revoked      bool       `json:"revoked"`
	RegisteredAt time.Time  `json:"registeredAt"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
}

// Store persists ledger entries.
//
// Create fails with storage.ErrConflict when the id exists. Get and MarkRevoked fail
// with storage.ErrNotFound for unknown ids. MarkRevoked must be an atomic
// compare-and-set: it reports true only for the call that flipped the flag.
type Store interface {
	Create(ctx context.Context, entry Entry) error
	Get(ctx context.Context, credentialID string) (Entry, error)
	MarkRevoked(ctx context.Context, credentialID string, at time.Time) (bool, error)
}

// Ledger is the revocation ledger consulted by verifiers.
type Ledger struct {
	store  Store
	clock  func() time.Time
	logger *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source for registration and revocation timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// NewLedger returns a ledger backed by store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  time.Now,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Register records credentialID as issued by issuerDID and not revoked.
func (l *Ledger) Register(ctx context.Context, credentialID, issuerDID string) error {
	if credentialID == "" || issuerDID == "" {
		return errors.New("credential id and issuer are required")
	}

	err := l.store.Create(ctx, Entry{
		CredentialID: credentialID,
		IssuerDID:    issuerDID,
		RegisteredAt: l.clock().UTC(),
	})
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, credentialID)
	}

	if err != nil {
		return fmt.Errorf("failed to register credential %s: %w", credentialID, err)
	}

	registeredTotal.Inc()

	return nil
}

// Revoke marks credentialID revoked on behalf of issuerDID.
//
// Revoking an already revoked credential succeeds and returns false; the first
// successful revocation returns true.
func (l *Ledger) Revoke(ctx context.Context, credentialID, issuerDID string) (bool, error) {
	entry, err := l.store.Get(ctx, credentialID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrUnknownCredential, credentialID)
	}

	if err != nil {
		return false, fmt.Errorf("failed to load credential %s: %w", credentialID, err)
	}

	if entry.IssuerDID != issuerDID {
		l.logger.Warn("revocation rejected", zap.String("credentialId", credentialID), zap.String("requester", issuerDID))

		return false, ErrUnauthorizedRevocation
	}

	if entry.Revoked {
		return false, nil
	}

	changed, err := l.store.MarkRevoked(ctx, credentialID, l.clock().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to revoke credential %s: %w", credentialID, err)
	}

	if changed {
		revokedTotal.Inc()
		l.logger.Info("credential revoked", zap.String("credentialId", credentialID), zap.String("issuer", issuerDID))
	}

	return changed, nil
}

// IsRevoked reports whether credentialID is revoked. Unknown ids are not revoked.
func (l *Ledger) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	start := time.Now()
	defer func() {
		isRevokedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	entry, err := l.store.Get(ctx, credentialID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to check revocation of %s: %w", credentialID, err)
	}

	return entry.Revoked, nil
}

// Entry returns the ledger record of credentialID.
func (l *Ledger) Entry(ctx context.Context, credentialID string) (Entry, error) {
	entry, err := l.store.Get(ctx, credentialID)
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownCredential, credentialID)
	}

	return entry, err
}
