package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilacorp/go-identity-sdk/revocation"
	"github.com/pilacorp/go-identity-sdk/storage"
)

var createEntryScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'issuer', ARGV[1], 'registeredAt', ARGV[2], 'revoked', ARGV[3], 'revokedAt', ARGV[4])
return 1
`)

var markRevokedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'revoked', '1', 'revokedAt', ARGV[1])
return 1
`)

// RevocationStore keeps ledger entries as hashes. MarkRevoked runs as a script so
// exactly one caller observes the flip.
type RevocationStore struct {
	client *Client
}

func NewRevocationStore(client *Client) *RevocationStore {
	return &RevocationStore{client: client}
}

func (s *RevocationStore) Create(ctx context.Context, entry revocation.Entry) error {
	defer storage.Observe(backend, "create_entry", time.Now())

	revoked, revokedAt := "0", ""
	if entry.Revoked {
		revoked = "1"
	}

	if entry.RevokedAt != nil {
		revokedAt = entry.RevokedAt.UTC().Format(time.RFC3339Nano)
	}

	created, err := createEntryScript.Run(ctx, s.client, []string{s.client.key("rev", entry.CredentialID)},
		entry.IssuerDID, entry.RegisteredAt.UTC().Format(time.RFC3339Nano), revoked, revokedAt).Int()
	if err != nil {
		return mapErr("create ledger entry", err)
	}

	if created == 0 {
		return fmt.Errorf("ledger entry %s: %w", entry.CredentialID, storage.ErrConflict)
	}

	return nil
}

func (s *RevocationStore) Get(ctx context.Context, credentialID string) (revocation.Entry, error) {
	defer storage.Observe(backend, "get_entry", time.Now())

	fields, err := s.client.HGetAll(ctx, s.client.key("rev", credentialID)).Result()
	if err != nil {
		return revocation.Entry{}, mapErr("get ledger entry", err)
	}

	if len(fields) == 0 {
		return revocation.Entry{}, fmt.Errorf("ledger entry %s: %w", credentialID, storage.ErrNotFound)
	}

	entry := revocation.Entry{
		CredentialID: credentialID,
		IssuerDID:    fields["issuer"],
		Revoked:      fields["revoked"] == "1",
	}

	entry.RegisteredAt, err = time.Parse(time.RFC3339Nano, fields["registeredAt"])
	if err != nil {
		return revocation.Entry{}, fmt.Errorf("ledger entry %s: bad registeredAt: %w", credentialID, err)
	}

	if v := fields["revokedAt"]; v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return revocation.Entry{}, fmt.Errorf("ledger entry %s: bad revokedAt: %w", credentialID, err)
		}

		entry.RevokedAt = &at
	}

	return entry, nil
}

func (s *RevocationStore) MarkRevoked(ctx context.Context, credentialID string, at time.Time) (bool, error) {
	defer storage.Observe(backend, "mark_revoked", time.Now())

	res, err := markRevokedScript.Run(ctx, s.client, []string{s.client.key("rev", credentialID)},
		at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, mapErr("mark revoked", err)
	}

	switch res {
	case -1:
		return false, fmt.Errorf("ledger entry %s: %w", credentialID, storage.ErrNotFound)
	case 0:
		return false, nil
	default:
		return true, nil
	}
}
