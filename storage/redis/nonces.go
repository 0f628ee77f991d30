package redis

import (
	"context"
	"time"

	"github.com/pilacorp/go-identity-sdk/storage"
)

// NonceStore records consumed disclosure nonces with SET NX so concurrent
// verifiers agree on which of them saw a nonce first.
type NonceStore struct {
	client *Client
}

func NewNonceStore(client *Client) *NonceStore {
	return &NonceStore{client: client}
}

func (s *NonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	defer storage.Observe(backend, "consume_nonce", time.Now())

	if ttl < 0 {
		ttl = 0
	}

	fresh, err := s.client.SetNX(ctx, s.client.key("nonce", nonce), "1", ttl).Result()
	if err != nil {
		return false, mapErr("consume nonce", err)
	}

	return fresh, nil
}
