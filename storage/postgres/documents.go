package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// DocumentStore persists DID documents in PostgreSQL.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Create inserts doc and relies on the did primary key to reject a second registration.
func (s *DocumentStore) Create(ctx context.Context, id string, doc *did.Document) error {
	defer storage.Observe(backend, "create_document", time.Now())

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO did_documents (did, document, updated_at)
		VALUES ($1, $2, now())
	`, id, raw)

	return mapErr("create document", err)
}

func (s *DocumentStore) Put(ctx context.Context, id string, doc *did.Document) error {
	defer storage.Observe(backend, "put_document", time.Now())

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO did_documents (did, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (did) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`, id, raw)

	return mapErr("put document", err)
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*did.Document, error) {
	defer storage.Observe(backend, "get_document", time.Now())

	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM did_documents WHERE did = $1`, id).Scan(&raw)
	if err != nil {
		return nil, mapErr("get document", err)
	}

	doc := &did.Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("unmarshal document %s: %w", id, err)
	}

	return doc, nil
}
