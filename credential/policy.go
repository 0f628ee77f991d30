package credential

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// IssuerPolicy decides whether a DID may issue credentials of a given type.
type IssuerPolicy interface {
	IsAuthorizedIssuer(ctx context.Context, issuerDID string, t Type) (bool, error)
}

// AllowList is an in-process IssuerPolicy. An issuer added without types may issue
// every credential type.
type AllowList struct {
	mu      sync.RWMutex
	issuers map[string][]Type
}

// NewAllowList returns an allow-list seeded with issuers authorized for all types.
func NewAllowList(issuerDIDs ...string) *AllowList {
	a := &AllowList{issuers: make(map[string][]Type, len(issuerDIDs))}
	for _, did := range issuerDIDs {
		a.Allow(did)
	}

	return a
}

// Allow authorizes issuerDID for the listed types, or for every type when none are given.
func (a *AllowList) Allow(issuerDID string, types ...Type) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.issuers[issuerDID] = lo.Uniq(types)
}

// Remove drops issuerDID from the list.
func (a *AllowList) Remove(issuerDID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.issuers, issuerDID)
}

// Issuers returns the authorized issuer DIDs.
func (a *AllowList) Issuers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return lo.Keys(a.issuers)
}

func (a *AllowList) IsAuthorizedIssuer(_ context.Context, issuerDID string, t Type) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	types, ok := a.issuers[issuerDID]
	if !ok {
		return false, nil
	}

	return len(types) == 0 || lo.Contains(types, t), nil
}
