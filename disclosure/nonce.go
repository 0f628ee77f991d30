package disclosure

import (
	"context"
	"sync"
	"time"
)

// NonceStore remembers consumed proof nonces.
type NonceStore interface {
	// Consume records nonce for ttl and reports whether it had not been seen before.
	// A non-positive ttl keeps the nonce forever.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore is an in-process NonceStore. Expired nonces are pruned lazily.
type MemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time), clock: time.Now}
}

func (s *MemoryNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for n, exp := range s.seen {
		if !exp.IsZero() && now.After(exp) {
			delete(s.seen, n)
		}
	}

	if _, ok := s.seen[nonce]; ok {
		return false, nil
	}

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}

	s.seen[nonce] = exp

	return true, nil
}
