package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// CredentialStore persists issued credentials. The full credential is kept as
// JSONB; issuer, subject and type are copied into columns for lookups.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Save(ctx context.Context, vc *credential.Credential) error {
	defer storage.Observe(backend, "save_credential", time.Now())

	raw, err := json.Marshal(vc)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	credType, _ := vc.CredentialType()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, issuer_did, subject_did, type, body, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, vc.ID, vc.Issuer, vc.CredentialSubject.ID(), string(credType), raw, vc.IssuanceDate)

	return mapErr("save credential", err)
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*credential.Credential, error) {
	defer storage.Observe(backend, "find_credential", time.Now())

	var raw []byte
	if err := s.db.QueryRowContext(ctx, `SELECT body FROM credentials WHERE id = $1`, id).Scan(&raw); err != nil {
		return nil, mapErr("find credential", err)
	}

	return credential.Parse(raw)
}

// FindBySubject returns the credentials issued to subjectDID, oldest first.
func (s *CredentialStore) FindBySubject(ctx context.Context, subjectDID string) ([]*credential.Credential, error) {
	defer storage.Observe(backend, "find_credentials_by_subject", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM credentials WHERE subject_did = $1 ORDER BY issued_at, id`, subjectDID)
	if err != nil {
		return nil, mapErr("find credentials", err)
	}
	defer rows.Close()

	var out []*credential.Credential

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, mapErr("find credentials", err)
		}

		vc, err := credential.Parse(raw)
		if err != nil {
			return nil, err
		}

		out = append(out, vc)
	}

	return out, mapErr("find credentials", rows.Err())
}
