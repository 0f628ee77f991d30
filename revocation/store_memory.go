package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/pilacorp/go-identity-sdk/storage"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Create(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.CredentialID]; ok {
		return storage.ErrConflict
	}

	s.entries[entry.CredentialID] = entry

	return nil
}

func (s *MemoryStore) Get(_ context.Context, credentialID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[credentialID]
	if !ok {
		return Entry{}, storage.ErrNotFound
	}

	return entry, nil
}

func (s *MemoryStore) MarkRevoked(_ context.Context, credentialID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[credentialID]
	if !ok {
		return false, storage.ErrNotFound
	}

	if entry.Revoked {
		return false, nil
	}

	entry.Revoked = true
	entry.RevokedAt = &at
	s.entries[credentialID] = entry

	return true, nil
}

// Len returns the number of registered entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
