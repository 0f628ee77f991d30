package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// CredentialStore keeps issued credentials by id. Credentials are write-once.
type CredentialStore struct {
	client *Client
}

func NewCredentialStore(client *Client) *CredentialStore {
	return &CredentialStore{client: client}
}

func (s *CredentialStore) Save(ctx context.Context, vc *credential.Credential) error {
	defer storage.Observe(backend, "save_credential", time.Now())

	raw, err := json.Marshal(vc)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.client.key("vc", vc.ID), raw, 0).Result()
	if err != nil {
		return mapErr("save credential", err)
	}

	if !created {
		return fmt.Errorf("credential %s: %w", vc.ID, storage.ErrConflict)
	}

	return nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*credential.Credential, error) {
	defer storage.Observe(backend, "find_credential", time.Now())

	raw, err := s.client.Get(ctx, s.client.key("vc", id)).Bytes()
	if err != nil {
		return nil, mapErr("find credential", err)
	}

	return credential.Parse(raw)
}
