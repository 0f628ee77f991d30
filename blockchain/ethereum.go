package blockchain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/storage"
)

// DefaultGasLimit covers a single SSTORE plus event emission in the anchor contract.
const DefaultGasLimit = uint64(80000)

// anchorABI is the interface of the document anchor contract.
const anchorABI = `[{"type":"function","name":"anchor","stateMutability":"nonpayable",` +
	`"inputs":[{"name":"docHash","type":"bytes32"}],"outputs":[]}]`

// TxBackend is the subset of *ethclient.Client used to broadcast transactions.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// SubmitTxResult holds a signed transaction serialized with RLP.
type SubmitTxResult struct {
	TxHex  string
	TxHash string
}

// EthereumSubmitter anchors document hashes through the anchor contract.
//
// Without a backend the transaction is only built and signed (nonce tracked
// locally, zero gas price); the hash of the signed transaction is still a stable
// audit reference. With a backend the gas price is taken from the chain and the
// transaction is broadcast. The nonce is read from the pending state once, then
// advanced locally; a failed broadcast forces a fresh read. Submissions are
// serialized so no two transactions share a nonce.
type EthereumSubmitter struct {
	contract     *bind.BoundContract
	contractAddr common.Address
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	from         common.Address
	backend      TxBackend
	gasLimit     uint64
	logger       *zap.Logger

	mu     sync.Mutex
	nonce  uint64
	synced bool
}

// EthereumOption configures an EthereumSubmitter.
type EthereumOption func(*EthereumSubmitter)

// WithBackend broadcasts transactions through b.
func WithBackend(b TxBackend) EthereumOption {
	return func(s *EthereumSubmitter) { s.backend = b }
}

// WithGasLimit overrides DefaultGasLimit.
func WithGasLimit(limit uint64) EthereumOption {
	return func(s *EthereumSubmitter) { s.gasLimit = limit }
}

// WithNonce sets the starting nonce used when no backend is configured.
// With a backend the pending nonce of the account takes precedence.
func WithNonce(nonce uint64) EthereumOption {
	return func(s *EthereumSubmitter) { s.nonce = nonce }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EthereumOption {
	return func(s *EthereumSubmitter) { s.logger = l }
}

// NewEthereumSubmitter creates a submitter for the anchor contract at address on chainID.
// key signs the transactions.
func NewEthereumSubmitter(address string, chainID int64, key *ecdsa.PrivateKey, opts ...EthereumOption) (*EthereumSubmitter, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid configuration: contract address %q", address)
	}

	if key == nil {
		return nil, errors.New("invalid configuration: signing key missing")
	}

	parsedABI, err := abi.JSON(strings.NewReader(anchorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	contractAddr := common.HexToAddress(address)

	s := &EthereumSubmitter{
		contract:     bind.NewBoundContract(contractAddr, parsedABI, nil, nil, nil),
		contractAddr: contractAddr,
		chainID:      big.NewInt(chainID),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:     DefaultGasLimit,
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Submit anchors keccak256(payload) and returns the transaction hash.
func (s *EthereumSubmitter) Submit(ctx context.Context, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, res, err := s.buildAnchorTx(ctx, payload)
	if err != nil {
		return "", err
	}

	if s.backend != nil {
		if err := s.backend.SendTransaction(ctx, tx); err != nil {
			s.synced = false
			s.logger.Error("failed to broadcast anchor transaction", zap.String("txHash", res.TxHash),
				zap.Uint64("nonce", tx.Nonce()), zap.Error(err))

			return "", storage.Unavailable("send anchor transaction", err)
		}
	}

	return res.TxHash, nil
}

// BuildAnchorTx builds and signs the anchor transaction for payload without sending it.
// Offline, the nonce it uses is consumed. With a backend the next submission reads the
// pending nonce again, so it accounts for the transaction only if the caller sent it.
func (s *EthereumSubmitter) BuildAnchorTx(ctx context.Context, payload []byte) (*types.Transaction, *SubmitTxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, res, err := s.buildAnchorTx(ctx, payload)
	if s.backend != nil {
		s.synced = false
	}

	return tx, res, err
}

// buildAnchorTx must be called with s.mu held.
func (s *EthereumSubmitter) buildAnchorTx(ctx context.Context, payload []byte) (*types.Transaction, *SubmitTxResult, error) {
	if len(payload) == 0 {
		return nil, nil, errors.New("payload is empty")
	}

	nonce, gasPrice, err := s.txParams(ctx)
	if err != nil {
		return nil, nil, err
	}

	auth := &bind.TransactOpts{
		From:     s.from,
		Nonce:    new(big.Int).SetUint64(nonce),
		Value:    big.NewInt(0),
		GasLimit: s.gasLimit,
		GasPrice: gasPrice,
		Context:  ctx,
		Signer: func(_ common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
		},
		NoSend: true,
	}

	docHash := crypto.Keccak256Hash(payload)

	tx, err := s.contract.Transact(auth, "anchor", [32]byte(docHash))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate anchor Tx: %w", err)
	}

	var buf bytes.Buffer
	if err := rlp.Encode(&buf, tx); err != nil {
		return nil, nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	s.nonce++

	return tx, &SubmitTxResult{
		TxHex:  hex.EncodeToString(buf.Bytes()),
		TxHash: tx.Hash().Hex(),
	}, nil
}

// From returns the account that signs anchor transactions.
func (s *EthereumSubmitter) From() string {
	return s.from.Hex()
}

// txParams must be called with s.mu held. The caller advances s.nonce once the
// transaction is signed.
func (s *EthereumSubmitter) txParams(ctx context.Context) (uint64, *big.Int, error) {
	if s.backend == nil {
		return s.nonce, big.NewInt(0), nil
	}

	if !s.synced {
		nonce, err := s.backend.PendingNonceAt(ctx, s.from)
		if err != nil {
			return 0, nil, storage.Unavailable("sync nonce", err)
		}

		s.nonce = nonce
		s.synced = true
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return 0, nil, storage.Unavailable("suggest gas price", err)
	}

	return s.nonce, gasPrice, nil
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, storage.Unavailable("dial rpc", err)
	}

	return client, nil
}
