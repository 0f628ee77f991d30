package did

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pilacorp/go-identity-sdk/blockchain"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/storage"
)

var (
	// ErrAlreadyRegistered is returned when registering a DID that already has a document.
	ErrAlreadyRegistered = errors.New("DID already registered")
	// ErrNotRegistered is returned when an operation needs an existing document.
	ErrNotRegistered = errors.New("DID not registered")
	// ErrUnknownVerificationMethod is returned when a key id is missing from its document.
	ErrUnknownVerificationMethod = errors.New("verification method not found")
)

// DocumentStore persists the current document of each DID.
//
// Create stores a document only when id has none yet and returns storage.ErrConflict
// otherwise. Get returns storage.ErrNotFound for unknown DIDs. Both wrap transport
// failures with storage.ErrUnavailable.
type DocumentStore interface {
	Create(ctx context.Context, id string, doc *Document) error
	Put(ctx context.Context, id string, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
}

// Submitter anchors a document payload on an external ledger and returns an audit reference.
type Submitter interface {
	Submit(ctx context.Context, payload []byte) (string, error)
}

// Resolver resolves a DID to its current document. found is false for unknown DIDs;
// err is reserved for failures reaching the backing store.
type Resolver interface {
	Resolve(ctx context.Context, did string) (doc *Document, found bool, err error)
}

// Registration is the outcome of minting or registering a DID.
type Registration struct {
	DID      string
	Document *Document
	TxRef    string
}

// Registry mints DIDs, publishes their documents and resolves them.
type Registry struct {
	store           DocumentStore
	submitter       Submitter
	method          string
	serviceEndpoint string
	rand            io.Reader
	clock           func() time.Time
	logger          *zap.Logger
	group           singleflight.Group
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMethod sets the DID method prefix (e.g., "did:wallof").
func WithMethod(method string) RegistryOption {
	return func(r *Registry) { r.method = method }
}

// WithSubmitter sets the ledger submitter. Defaults to blockchain.HashSubmitter.
func WithSubmitter(s Submitter) RegistryOption {
	return func(r *Registry) { r.submitter = s }
}

// WithLinkedDomain adds a LinkedDomains service endpoint to every minted document.
func WithLinkedDomain(endpoint string) RegistryOption {
	return func(r *Registry) { r.serviceEndpoint = endpoint }
}

// WithRandom sets the entropy source for DID suffixes.
func WithRandom(rd io.Reader) RegistryOption {
	return func(r *Registry) { r.rand = rd }
}

// WithClock sets the time source for document metadata.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store DocumentStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:     store,
		submitter: blockchain.HashSubmitter{},
		method:    DefaultMethod,
		clock:     time.Now,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// MintDID creates a fresh DID bound to publicKey and publishes its document.
func (r *Registry) MintDID(ctx context.Context, publicKey []byte) (*Registration, error) {
	if _, err := keys.ParsePublicKey(publicKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyBinding, err)
	}

	id, err := NewIdentifier(r.method, r.rand)
	if err != nil {
		return nil, err
	}

	return r.Register(ctx, id, publicKey)
}

// Register publishes a document for an externally chosen DID.
func (r *Registry) Register(ctx context.Context, did string, publicKey []byte) (*Registration, error) {
	var docOpts []DocumentOption
	if r.serviceEndpoint != "" {
		docOpts = append(docOpts, WithServiceEndpoint(r.serviceEndpoint))
	}

	doc, err := BuildDocument(did, publicKey, docOpts...)
	if err != nil {
		return nil, err
	}

	_, found, err := r.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}

	if found {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, did)
	}

	now := r.now()
	doc.Metadata = &Metadata{Created: now, Updated: now, VersionID: 1}

	txRef, err := r.publish(ctx, doc, r.store.Create)
	if errors.Is(err, storage.ErrConflict) {
		r.logger.Warn("DID registered concurrently", zap.String("did", did), zap.String("txRef", doc.Metadata.TxRef))

		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, did)
	}

	if err != nil {
		return nil, err
	}

	r.logger.Info("DID registered", zap.String("did", did), zap.String("txRef", txRef))

	return &Registration{DID: did, Document: doc.Clone(), TxRef: txRef}, nil
}

// Update replaces the current document of doc.ID and bumps its version.
func (r *Registry) Update(ctx context.Context, doc *Document) (*Registration, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	current, found, err := r.Resolve(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, doc.ID)
	}

	now := r.now()
	next := doc.Clone()
	next.Metadata = &Metadata{Created: now, Updated: now, VersionID: 1}

	if current.Metadata != nil {
		next.Metadata.Created = current.Metadata.Created
		next.Metadata.VersionID = current.Metadata.VersionID + 1
	}

	txRef, err := r.publish(ctx, next, r.store.Put)
	if err != nil {
		return nil, err
	}

	r.logger.Info("DID document updated", zap.String("did", next.ID),
		zap.Int("version", next.Metadata.VersionID), zap.String("txRef", txRef))

	return &Registration{DID: next.ID, Document: next.Clone(), TxRef: txRef}, nil
}

// Resolve returns the current document of did. Concurrent lookups of the same DID
// share one store read.
func (r *Registry) Resolve(ctx context.Context, did string) (*Document, bool, error) {
	v, err, _ := r.group.Do(did, func() (any, error) {
		return r.store.Get(ctx, did)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve %s: %w", did, err)
	}

	doc, _ := v.(*Document)
	if doc == nil {
		return nil, false, nil
	}

	return doc.Clone(), true, nil
}

// PublicKey resolves the key referenced by a verification method id.
func (r *Registry) PublicKey(ctx context.Context, verificationMethodID string) (*ecdsa.PublicKey, error) {
	return PublicKeyFor(ctx, r, verificationMethodID)
}

// PublicKeyFor resolves verificationMethodID through res and decodes its key.
func PublicKeyFor(ctx context.Context, res Resolver, verificationMethodID string) (*ecdsa.PublicKey, error) {
	controller, err := ControllerOf(verificationMethodID)
	if err != nil {
		return nil, err
	}

	doc, found, err := res.Resolve(ctx, controller)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, controller)
	}

	vm, ok := doc.VerificationMethodByID(verificationMethodID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVerificationMethod, verificationMethodID)
	}

	return vm.PublicKey()
}

// publish anchors doc and then persists it with write. Register passes the store's
// Create so that only one of several racing registrations is kept.
func (r *Registry) publish(ctx context.Context, doc *Document,
	write func(ctx context.Context, id string, doc *Document) error) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}

	anchored := doc.Clone()
	anchored.Metadata = nil

	payload, err := anchored.Canonical()
	if err != nil {
		return "", err
	}

	txRef, err := r.submitter.Submit(ctx, payload)
	if err != nil {
		r.logger.Error("failed to submit DID document", zap.String("did", doc.ID), zap.Error(err))

		return "", fmt.Errorf("failed to submit DID document: %w", err)
	}

	doc.Metadata.TxRef = txRef

	if err := write(ctx, doc.ID, doc.Clone()); err != nil {
		return "", fmt.Errorf("failed to store DID document: %w", err)
	}

	return txRef, nil
}

func (r *Registry) now() string {
	return r.clock().UTC().Format(time.RFC3339)
}
