package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pilacorp/go-identity-sdk/revocation"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// RevocationStore persists ledger entries in the credential_status table.
type RevocationStore struct {
	db *sql.DB
}

func NewRevocationStore(db *sql.DB) *RevocationStore {
	return &RevocationStore{db: db}
}

func (s *RevocationStore) Create(ctx context.Context, entry revocation.Entry) error {
	defer storage.Observe(backend, "create_entry", time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_status (credential_id, issuer_did, revoked, registered_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.CredentialID, entry.IssuerDID, entry.Revoked, entry.RegisteredAt, entry.RevokedAt)

	return mapErr("create ledger entry", err)
}

func (s *RevocationStore) Get(ctx context.Context, credentialID string) (revocation.Entry, error) {
	defer storage.Observe(backend, "get_entry", time.Now())

	entry := revocation.Entry{CredentialID: credentialID}

	var revokedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT issuer_did, revoked, registered_at, revoked_at
		FROM credential_status WHERE credential_id = $1
	`, credentialID).Scan(&entry.IssuerDID, &entry.Revoked, &entry.RegisteredAt, &revokedAt)
	if err != nil {
		return revocation.Entry{}, mapErr("get ledger entry", err)
	}

	if revokedAt.Valid {
		at := revokedAt.Time.UTC()
		entry.RevokedAt = &at
	}

	entry.RegisteredAt = entry.RegisteredAt.UTC()

	return entry, nil
}

// MarkRevoked flips the flag with a conditional UPDATE; only the statement that
// matched the unrevoked row reports true.
func (s *RevocationStore) MarkRevoked(ctx context.Context, credentialID string, at time.Time) (bool, error) {
	defer storage.Observe(backend, "mark_revoked", time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE credential_status SET revoked = TRUE, revoked_at = $2
		WHERE credential_id = $1 AND NOT revoked
	`, credentialID, at)
	if err != nil {
		return false, mapErr("mark revoked", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("mark revoked", err)
	}

	if n == 1 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM credential_status WHERE credential_id = $1)`, credentialID).Scan(&exists)
	if err != nil {
		return false, mapErr("mark revoked", err)
	}

	if !exists {
		return false, fmt.Errorf("ledger entry %s: %w", credentialID, storage.ErrNotFound)
	}

	return false, nil
}
