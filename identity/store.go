package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pilacorp/go-identity-sdk/storage"
)

// Record is the persisted state of an identity. The recovery key itself is never
// stored, only its fingerprint and the private key sealed under it. Version counts
// the updates applied to the record.
type Record struct {
	DID                 string    `json:"did"`
	EncryptedKey        string    `json:"encryptedKey"`
	RecoveryEnvelope    string    `json:"recoveryEnvelope"`
	RecoveryFingerprint string    `json:"recoveryFingerprint"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	Version             int64     `json:"version"`
}

// Store persists identity records.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, did string) (Record, error)
	FindByRecoveryFingerprint(ctx context.Context, fingerprint string) (Record, error)
	// Update replaces the record only while the stored version still equals
	// rec.Version and stores it as rec.Version+1. A record changed in between
	// yields storage.ErrConflict.
	Update(ctx context.Context, rec Record) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	byFP    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), byFP: make(map[string]string)}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.DID]; ok {
		return fmt.Errorf("identity %s: %w", rec.DID, storage.ErrConflict)
	}

	if _, ok := s.byFP[rec.RecoveryFingerprint]; ok {
		return fmt.Errorf("recovery fingerprint: %w", storage.ErrConflict)
	}

	s.records[rec.DID] = rec
	s.byFP[rec.RecoveryFingerprint] = rec.DID

	return nil
}

func (s *MemoryStore) Get(_ context.Context, did string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[did]
	if !ok {
		return Record{}, fmt.Errorf("identity %s: %w", did, storage.ErrNotFound)
	}

	return rec, nil
}

func (s *MemoryStore) FindByRecoveryFingerprint(_ context.Context, fingerprint string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	did, ok := s.byFP[fingerprint]
	if !ok {
		return Record{}, fmt.Errorf("recovery fingerprint: %w", storage.ErrNotFound)
	}

	return s.records[did], nil
}

func (s *MemoryStore) Update(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[rec.DID]
	if !ok {
		return fmt.Errorf("identity %s: %w", rec.DID, storage.ErrNotFound)
	}

	if owner, ok := s.byFP[rec.RecoveryFingerprint]; ok && owner != rec.DID {
		return fmt.Errorf("recovery fingerprint: %w", storage.ErrConflict)
	}

	if prev.Version != rec.Version {
		return fmt.Errorf("identity %s changed concurrently: %w", rec.DID, storage.ErrConflict)
	}

	rec.Version++

	delete(s.byFP, prev.RecoveryFingerprint)
	s.records[rec.DID] = rec
	s.byFP[rec.RecoveryFingerprint] = rec.DID

	return nil
}
