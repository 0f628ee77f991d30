package blockchain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-identity-sdk/storage"
)

const contractAddr = "0x6aD11619F8912f800A6f5CF05BD63Bb60e7ad160"

// fakeBackend reports the pending nonce as the starting nonce plus every
// transaction accepted so far, like a node's pending state.
type fakeBackend struct {
	mu         sync.Mutex
	nonce      uint64
	gasPrice   *big.Int
	sendErr    error
	nonceErr   error
	sent       []*types.Transaction
	nonceReads int
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nonceReads++

	return f.nonce + uint64(len(f.sent)), f.nonceErr
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}

	f.sent = append(f.sent, tx)

	return nil
}

func TestHashSubmitter(t *testing.T) {
	ctx := context.Background()

	ref1, err := HashSubmitter{}.Submit(ctx, []byte(`{"id":"did:wallof:abc"}`))
	require.NoError(t, err)
	ref2, err := HashSubmitter{}.Submit(ctx, []byte(`{"id":"did:wallof:abc"}`))
	require.NoError(t, err)

	assert.Equal(t, ref1, ref2)
	assert.True(t, strings.HasPrefix(ref1, "0x"))
	assert.Len(t, ref1, 66)

	_, err = HashSubmitter{}.Submit(ctx, nil)
	require.Error(t, err)
}

func TestNewEthereumSubmitter(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewEthereumSubmitter("not-an-address", 704, key)
	require.Error(t, err)

	_, err = NewEthereumSubmitter(contractAddr, 704, nil)
	require.Error(t, err)

	s, err := NewEthereumSubmitter(contractAddr, 704, key)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), s.From())
}

func TestEthereumSubmitterOffline(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	s, err := NewEthereumSubmitter(contractAddr, 704, key, WithNonce(7))
	require.NoError(t, err)

	payload := []byte(`{"id":"did:wallof:abc"}`)

	tx, res, err := s.BuildAnchorTx(context.Background(), payload)
	require.NoError(t, err)

	decoded, err := TxFromHex(res.TxHex)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), decoded.Hash())
	assert.Equal(t, res.TxHash, decoded.Hash().Hex())

	assert.Equal(t, uint64(7), decoded.Nonce())
	assert.Equal(t, common.HexToAddress(contractAddr), *decoded.To())
	assert.Equal(t, DefaultGasLimit, decoded.Gas())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(704)), decoded)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	parsed, err := abi.JSON(strings.NewReader(anchorABI))
	require.NoError(t, err)

	args, err := parsed.Methods["anchor"].Inputs.Unpack(decoded.Data()[4:])
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.Equal(t, [32]byte(crypto.Keccak256Hash(payload)), args[0])

	ref, err := s.Submit(context.Background(), payload)
	require.NoError(t, err)
	assert.NotEqual(t, res.TxHash, ref, "nonce advances between submissions")

	_, _, err = s.BuildAnchorTx(context.Background(), nil)
	require.Error(t, err)
}

func TestEthereumSubmitterBroadcast(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	t.Run("sends through backend", func(t *testing.T) {
		backend := &fakeBackend{nonce: 3, gasPrice: big.NewInt(1_000_000_000)}
		s, err := NewEthereumSubmitter(contractAddr, 704, key, WithBackend(backend), WithGasLimit(100000))
		require.NoError(t, err)

		ref, err := s.Submit(context.Background(), []byte("doc"))
		require.NoError(t, err)
		require.Len(t, backend.sent, 1)
		assert.Equal(t, backend.sent[0].Hash().Hex(), ref)
		assert.Equal(t, uint64(3), backend.sent[0].Nonce())
		assert.Equal(t, big.NewInt(1_000_000_000), backend.sent[0].GasPrice())
		assert.Equal(t, uint64(100000), backend.sent[0].Gas())
	})

	t.Run("send failure is unavailable", func(t *testing.T) {
		backend := &fakeBackend{gasPrice: big.NewInt(1), sendErr: errors.New("connection refused")}
		s, err := NewEthereumSubmitter(contractAddr, 704, key, WithBackend(backend))
		require.NoError(t, err)

		_, err = s.Submit(context.Background(), []byte("doc"))
		require.ErrorIs(t, err, storage.ErrUnavailable)
	})

	t.Run("nonce sync failure is unavailable", func(t *testing.T) {
		backend := &fakeBackend{gasPrice: big.NewInt(1), nonceErr: errors.New("timeout")}
		s, err := NewEthereumSubmitter(contractAddr, 704, key, WithBackend(backend))
		require.NoError(t, err)

		_, err = s.Submit(context.Background(), []byte("doc"))
		require.ErrorIs(t, err, storage.ErrUnavailable)
	})
}

func TestEthereumSubmitterConcurrentNonces(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	backend := &fakeBackend{nonce: 3, gasPrice: big.NewInt(1)}
	s, err := NewEthereumSubmitter(contractAddr, 704, key, WithBackend(backend))
	require.NoError(t, err)

	const submits = 16

	var wg sync.WaitGroup

	errs := make(chan error, submits)

	for i := range submits {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, err := s.Submit(context.Background(), []byte{byte(i)})
			errs <- err
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, backend.sent, submits)

	seen := make(map[uint64]bool, submits)
	for _, tx := range backend.sent {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
		assert.GreaterOrEqual(t, tx.Nonce(), uint64(3))
		assert.Less(t, tx.Nonce(), uint64(3+submits))
	}

	assert.Equal(t, 1, backend.nonceReads)
}

func TestEthereumSubmitterResyncsAfterFailedSend(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	backend := &fakeBackend{nonce: 5, gasPrice: big.NewInt(1)}
	s, err := NewEthereumSubmitter(contractAddr, 704, key, WithBackend(backend))
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), []byte("first"))
	require.NoError(t, err)

	backend.mu.Lock()
	backend.sendErr = errors.New("connection reset")
	backend.mu.Unlock()

	_, err = s.Submit(context.Background(), []byte("second"))
	require.ErrorIs(t, err, storage.ErrUnavailable)

	backend.mu.Lock()
	backend.sendErr = nil
	backend.mu.Unlock()

	_, err = s.Submit(context.Background(), []byte("third"))
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(5), backend.sent[0].Nonce())
	assert.Equal(t, uint64(6), backend.sent[1].Nonce(), "the nonce of the failed send is reused")
	assert.Equal(t, 2, backend.nonceReads)
}

func TestTxFromHexInvalid(t *testing.T) {
	_, err := TxFromHex("zz")
	require.Error(t, err)

	_, err = TxFromHex("0xdeadbeef")
	require.Error(t, err)
}
