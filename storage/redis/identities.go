package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilacorp/go-identity-sdk/identity"
	"github.com/pilacorp/go-identity-sdk/storage"
)

// KEYS: record, fingerprint index. ARGV: record JSON, DID.
var createIdentityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// KEYS: record, new fingerprint index, previous fingerprint index.
// ARGV: record JSON, DID, expected version.
var updateIdentityScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end
if (cjson.decode(current).version or 0) ~= tonumber(ARGV[3]) then
	return -2
end
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[2] then
	return 0
end
if KEYS[3] ~= KEYS[2] then
	redis.call('DEL', KEYS[3])
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// IdentityStore keeps identity records and an index from recovery fingerprint to DID.
type IdentityStore struct {
	client *Client
}

func NewIdentityStore(client *Client) *IdentityStore {
	return &IdentityStore{client: client}
}

func (s *IdentityStore) Create(ctx context.Context, rec identity.Record) error {
	defer storage.Observe(backend, "create_identity", time.Now())

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	created, err := createIdentityScript.Run(ctx, s.client,
		[]string{s.client.key("id", rec.DID), s.client.key("idfp", rec.RecoveryFingerprint)},
		raw, rec.DID).Int()
	if err != nil {
		return mapErr("create identity", err)
	}

	if created == 0 {
		return fmt.Errorf("identity %s: %w", rec.DID, storage.ErrConflict)
	}

	return nil
}

func (s *IdentityStore) Get(ctx context.Context, did string) (identity.Record, error) {
	defer storage.Observe(backend, "get_identity", time.Now())

	return s.get(ctx, did)
}

func (s *IdentityStore) FindByRecoveryFingerprint(ctx context.Context, fingerprint string) (identity.Record, error) {
	defer storage.Observe(backend, "find_identity", time.Now())

	did, err := s.client.Get(ctx, s.client.key("idfp", fingerprint)).Result()
	if err != nil {
		return identity.Record{}, mapErr("find identity", err)
	}

	return s.get(ctx, did)
}

// Update replaces the record when its version is unchanged and moves the
// fingerprint index when the fingerprint changed.
func (s *IdentityStore) Update(ctx context.Context, rec identity.Record) error {
	defer storage.Observe(backend, "update_identity", time.Now())

	prev, err := s.get(ctx, rec.DID)
	if err != nil {
		return err
	}

	expected := rec.Version
	rec.Version++

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	res, err := updateIdentityScript.Run(ctx, s.client, []string{
		s.client.key("id", rec.DID),
		s.client.key("idfp", rec.RecoveryFingerprint),
		s.client.key("idfp", prev.RecoveryFingerprint),
	}, raw, rec.DID, expected).Int()
	if err != nil {
		return mapErr("update identity", err)
	}

	switch res {
	case -1:
		return fmt.Errorf("identity %s: %w", rec.DID, storage.ErrNotFound)
	case -2:
		return fmt.Errorf("identity %s changed concurrently: %w", rec.DID, storage.ErrConflict)
	case 0:
		return fmt.Errorf("recovery fingerprint: %w", storage.ErrConflict)
	default:
		return nil
	}
}

func (s *IdentityStore) get(ctx context.Context, did string) (identity.Record, error) {
	raw, err := s.client.Get(ctx, s.client.key("id", did)).Bytes()
	if err != nil {
		return identity.Record{}, mapErr("get identity", err)
	}

	var rec identity.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return identity.Record{}, fmt.Errorf("unmarshal identity %s: %w", did, err)
	}

	return rec, nil
}
