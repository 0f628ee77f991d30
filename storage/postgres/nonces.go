package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pilacorp/go-identity-sdk/storage"
)

// NonceStore records consumed disclosure nonces. An expired row may be claimed
// again; the upsert only touches it when its expiry has passed.
type NonceStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewNonceStore(db *sql.DB) *NonceStore {
	return &NonceStore{db: db, clock: time.Now}
}

func (s *NonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	defer storage.Observe(backend, "consume_nonce", time.Now())

	now := s.clock().UTC()

	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO disclosure_nonces (nonce, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (nonce) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE disclosure_nonces.expires_at IS NOT NULL AND disclosure_nonces.expires_at <= $3
	`, nonce, expiresAt, now)
	if err != nil {
		return false, mapErr("consume nonce", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("consume nonce", err)
	}

	return n == 1, nil
}
