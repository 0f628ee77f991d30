package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// DocumentStore keeps the latest DID document of every DID.
type DocumentStore struct {
	client *Client
}

func NewDocumentStore(client *Client) *DocumentStore {
	return &DocumentStore{client: client}
}

// Create writes doc only if id has no document yet.
func (s *DocumentStore) Create(ctx context.Context, id string, doc *did.Document) error {
	defer storage.Observe(backend, "create_document", time.Now())

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.client.key("doc", id), raw, 0).Result()
	if err != nil {
		return mapErr("create document", err)
	}

	if !ok {
		return fmt.Errorf("document %s: %w", id, storage.ErrConflict)
	}

	return nil
}

func (s *DocumentStore) Put(ctx context.Context, id string, doc *did.Document) error {
	defer storage.Observe(backend, "put_document", time.Now())

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	return mapErr("put document", s.client.Set(ctx, s.client.key("doc", id), raw, 0).Err())
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*did.Document, error) {
	defer storage.Observe(backend, "get_document", time.Now())

	raw, err := s.client.Get(ctx, s.client.key("doc", id)).Bytes()
	if err != nil {
		return nil, mapErr("get document", err)
	}

	doc := &did.Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("unmarshal document %s: %w", id, err)
	}

	return doc, nil
}
