package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pilacorp/go-identity-sdk/identity"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// IdentityStore persists identity records; the recovery fingerprint column is unique.
type IdentityStore struct {
	db *sql.DB
}

func NewIdentityStore(db *sql.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

const identityColumns = `did, encrypted_key, recovery_envelope, recovery_fingerprint, created_at, updated_at, version`

func (s *IdentityStore) Create(ctx context.Context, rec identity.Record) error {
	defer storage.Observe(backend, "create_identity", time.Now())

	_, err := s.db.ExecContext(ctx, `INSERT INTO identities (`+identityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.DID, rec.EncryptedKey, rec.RecoveryEnvelope, rec.RecoveryFingerprint, rec.CreatedAt, rec.UpdatedAt, rec.Version)

	return mapErr("create identity", err)
}

func (s *IdentityStore) Get(ctx context.Context, did string) (identity.Record, error) {
	defer storage.Observe(backend, "get_identity", time.Now())

	return s.scan(s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE did = $1`, did),
		"get identity")
}

func (s *IdentityStore) FindByRecoveryFingerprint(ctx context.Context, fingerprint string) (identity.Record, error) {
	defer storage.Observe(backend, "find_identity", time.Now())

	return s.scan(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE recovery_fingerprint = $1`, fingerprint),
		"find identity")
}

// Update is a compare-and-set on the version column.
func (s *IdentityStore) Update(ctx context.Context, rec identity.Record) error {
	defer storage.Observe(backend, "update_identity", time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET encrypted_key = $2, recovery_envelope = $3, recovery_fingerprint = $4, updated_at = $5,
			version = version + 1
		WHERE did = $1 AND version = $6
	`, rec.DID, rec.EncryptedKey, rec.RecoveryEnvelope, rec.RecoveryFingerprint, rec.UpdatedAt, rec.Version)
	if err != nil {
		return mapErr("update identity", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("update identity", err)
	}

	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE did = $1)`,
		rec.DID).Scan(&exists); err != nil {
		return mapErr("update identity", err)
	}

	if !exists {
		return fmt.Errorf("identity %s: %w", rec.DID, storage.ErrNotFound)
	}

	return fmt.Errorf("identity %s changed concurrently: %w", rec.DID, storage.ErrConflict)
}

func (s *IdentityStore) scan(row *sql.Row, op string) (identity.Record, error) {
	var rec identity.Record

	err := row.Scan(&rec.DID, &rec.EncryptedKey, &rec.RecoveryEnvelope, &rec.RecoveryFingerprint,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.Version)
	if err != nil {
		return identity.Record{}, mapErr(op, err)
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return rec, nil
}
