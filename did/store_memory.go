package did

import (
	"context"
	"fmt"
	"sync"

	"github.com/pilacorp/go-identity-sdk/storage"
)

// MemoryStore is an in-process DocumentStore for tests and single-node demos.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func (s *MemoryStore) Create(_ context.Context, did string, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[did]; ok {
		return fmt.Errorf("document %s: %w", did, storage.ErrConflict)
	}

	s.docs[did] = doc.Clone()

	return nil
}

func (s *MemoryStore) Put(_ context.Context, did string, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[did] = doc.Clone()

	return nil
}

func (s *MemoryStore) Get(_ context.Context, did string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[did]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return doc.Clone(), nil
}
