// Package blockchain anchors DID document hashes on an EVM ledger.
//
// The identity core only keeps the returned transaction reference for audit, so a
// submitter may run fully offline (HashSubmitter) or build, sign and optionally
// broadcast a real transaction (EthereumSubmitter).
package blockchain

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// HashSubmitter returns the keccak256 hash of the payload as the reference without
// touching any network. It is the default for deployments without a chain.
type HashSubmitter struct{}

// Submit returns the lowercase 0x-prefixed keccak256 hash of payload.
func (HashSubmitter) Submit(_ context.Context, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", errors.New("payload is empty")
	}

	return strings.ToLower(crypto.Keccak256Hash(payload).Hex()), nil
}
