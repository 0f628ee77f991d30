package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/pilacorp/go-identity-sdk/storage"
)

// MemoryStore is an in-process CredentialStore.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func (s *MemoryStore) Save(_ context.Context, vc *Credential) error {
	clone, err := vc.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[vc.ID]; ok {
		return fmt.Errorf("credential %s: %w", vc.ID, storage.ErrConflict)
	}

	s.creds[vc.ID] = clone

	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	vc, ok := s.creds[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("credential %s: %w", id, storage.ErrNotFound)
	}

	return vc.Clone()
}
