package did_test

//go:generate mockgen -source=registry.go -destination=mocks/mocks.go -package=mocks -exclude_interfaces=Resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/did/mocks"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/storage"
)

func publicKey(t *testing.T) []byte {
	t.Helper()

	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	return kp.PublicKeyBytes()
}

func TestMintAndResolveRoundTrip(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	reg := did.NewRegistry(did.NewMemoryStore(),
		did.WithClock(func() time.Time { return fixed }),
		did.WithLinkedDomain("https://wallof.app"),
	)

	for range 5 {
		minted, err := reg.MintDID(ctx, publicKey(t))
		require.NoError(t, err)
		require.NotEmpty(t, minted.TxRef)
		assert.Equal(t, minted.TxRef, minted.Document.Metadata.TxRef)
		assert.Equal(t, 1, minted.Document.Metadata.VersionID)
		assert.Equal(t, "2026-10-18T09:00:00Z", minted.Document.Metadata.Created)

		resolved, found, err := reg.Resolve(ctx, minted.DID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, minted.Document, resolved)
	}
}

func TestMintDIDRejectsMalformedKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockDocumentStore(ctrl)
	submitter := mocks.NewMockSubmitter(ctrl)

	reg := did.NewRegistry(store, did.WithSubmitter(submitter))

	_, err := reg.MintDID(context.Background(), []byte{0x02, 0x01})
	require.ErrorIs(t, err, did.ErrKeyBinding)
}

func TestResolveMissIsNotAnError(t *testing.T) {
	reg := did.NewRegistry(did.NewMemoryStore())

	doc, found, err := reg.Resolve(context.Background(), "did:wallof:missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestResolveStoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockDocumentStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "did:wallof:abc").
		Return(nil, storage.Unavailable("get document", errors.New("dial tcp: i/o timeout")))

	reg := did.NewRegistry(store)

	_, found, err := reg.Resolve(context.Background(), "did:wallof:abc")
	require.ErrorIs(t, err, storage.ErrUnavailable)
	assert.False(t, found)
}

func TestRegisterSubmissionFailureStoresNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockDocumentStore(ctrl)
	submitter := mocks.NewMockSubmitter(ctrl)

	store.EXPECT().Get(gomock.Any(), "did:example:issuer1").Return(nil, storage.ErrNotFound)
	submitter.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", storage.Unavailable("send", errors.New("rpc down")))
	store.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	reg := did.NewRegistry(store, did.WithSubmitter(submitter))

	_, err := reg.Register(context.Background(), "did:example:issuer1", publicKey(t))
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestRegisterTwiceFails(t *testing.T) {
	ctx := context.Background()
	reg := did.NewRegistry(did.NewMemoryStore())

	_, err := reg.Register(ctx, "did:example:issuer1", publicKey(t))
	require.NoError(t, err)

	_, err = reg.Register(ctx, "did:example:issuer1", publicKey(t))
	require.ErrorIs(t, err, did.ErrAlreadyRegistered)
}

func TestRegisterLosesCreateRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockDocumentStore(ctrl)

	store.EXPECT().Get(gomock.Any(), "did:example:issuer1").Return(nil, storage.ErrNotFound)
	store.EXPECT().Create(gomock.Any(), "did:example:issuer1", gomock.Any()).
		Return(storage.ErrConflict)
	store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	reg := did.NewRegistry(store)

	_, err := reg.Register(context.Background(), "did:example:issuer1", publicKey(t))
	require.ErrorIs(t, err, did.ErrAlreadyRegistered)
}

func TestConcurrentRegisterKeepsOneDocument(t *testing.T) {
	ctx := context.Background()
	reg := did.NewRegistry(did.NewMemoryStore())

	const writers = 8

	pubs := make([][]byte, writers)
	for i := range pubs {
		pubs[i] = publicKey(t)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*did.Registration
		losses  int
	)

	start := make(chan struct{})

	for i := range writers {
		wg.Add(1)

		go func(pub []byte) {
			defer wg.Done()
			<-start

			got, err := reg.Register(ctx, "did:example:issuer1", pub)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				winners = append(winners, got)
				return
			}

			if errors.Is(err, did.ErrAlreadyRegistered) {
				losses++
			}
		}(pubs[i])
	}

	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, writers-1, losses)

	stored, found, err := reg.Resolve(ctx, "did:example:issuer1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, winners[0].Document, stored)
}

func TestUpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	reg := did.NewRegistry(did.NewMemoryStore())

	minted, err := reg.MintDID(ctx, publicKey(t))
	require.NoError(t, err)

	next := minted.Document.Clone()
	next.Service = []did.Service{{ID: next.ID + "#hub", Type: "LinkedDomains", ServiceEndpoint: "https://hub.wallof.app"}}

	updated, err := reg.Update(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Document.Metadata.VersionID)
	assert.Equal(t, minted.Document.Metadata.Created, updated.Document.Metadata.Created)
	assert.NotEqual(t, minted.TxRef, updated.TxRef)

	current, found, err := reg.Resolve(ctx, minted.DID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, updated.Document, current)

	broken := current.Clone()
	broken.AssertionMethod = []string{"did:wallof:nope#key-9"}
	_, err = reg.Update(ctx, broken)
	require.ErrorIs(t, err, did.ErrInvalidDocument)

	unknown := current.Clone()
	unknown.ID = "did:wallof:unknown"
	_, err = reg.Update(ctx, unknown)
	require.ErrorIs(t, err, did.ErrNotRegistered)
}

func TestRegistryPublicKey(t *testing.T) {
	ctx := context.Background()
	reg := did.NewRegistry(did.NewMemoryStore())

	pub := publicKey(t)
	minted, err := reg.MintDID(ctx, pub)
	require.NoError(t, err)

	key, err := reg.PublicKey(ctx, minted.DID+"#key-1")
	require.NoError(t, err)
	assert.Equal(t, pub, keys.CompressPublicKey(key))

	_, err = reg.PublicKey(ctx, minted.DID+"#key-2")
	require.ErrorIs(t, err, did.ErrUnknownVerificationMethod)

	_, err = reg.PublicKey(ctx, "did:wallof:missing#key-1")
	require.ErrorIs(t, err, did.ErrNotRegistered)
}

func TestConcurrentResolve(t *testing.T) {
	ctx := context.Background()
	reg := did.NewRegistry(did.NewMemoryStore())

	minted, err := reg.MintDID(ctx, publicKey(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	docs := make([]*did.Document, 32)
	for i := range docs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, _, err := reg.Resolve(ctx, minted.DID)
			assert.NoError(t, err)
			docs[i] = doc
		}()
	}
	wg.Wait()

	for _, doc := range docs {
		assert.Equal(t, minted.Document, doc)
	}

	// Every caller gets its own copy.
	docs[0].Controller = "mutated"
	assert.Equal(t, minted.DID, docs[1].Controller)
}
