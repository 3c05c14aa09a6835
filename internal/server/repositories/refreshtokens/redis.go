package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/go-redis/redis/v8"
)

// DefaultRetention is how long a record outlives its expiry in Redis, so a
// replayed rotated token can still be recognised.
const DefaultRetention = 24 * time.Hour

// Timestamps are stored as unix microseconds; Lua numbers are doubles and
// cannot hold nanoseconds exactly.

var createScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'owner_id', ARGV[2], 'issued_at', ARGV[3], 'expires_at', ARGV[4], 'revoked', '0')
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
redis.call('SADD', KEYS[2], ARGV[6])
redis.call('PEXPIREAT', KEYS[2], ARGV[5])
return 1
`)

// KEYS: old record, new record, owner set.
// ARGV: owner, now, new hash, new id, new expiry, key deadline (ms).
var rotateScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner_id')
if not owner or owner ~= ARGV[1] then return 0 end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then return 0 end
if tonumber(redis.call('HGET', KEYS[1], 'expires_at')) <= tonumber(ARGV[2]) then return 0 end
redis.call('HSET', KEYS[1], 'revoked', '1', 'revoked_at', ARGV[2], 'replaced_by', ARGV[3])
redis.call('HSET', KEYS[2], 'id', ARGV[4], 'owner_id', ARGV[1], 'issued_at', ARGV[2], 'expires_at', ARGV[5], 'revoked', '0')
redis.call('PEXPIREAT', KEYS[2], ARGV[6])
redis.call('SADD', KEYS[3], ARGV[3])
redis.call('PEXPIREAT', KEYS[3], ARGV[6])
return 1
`)

var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then return 0 end
redis.call('HSET', KEYS[1], 'revoked', '1', 'revoked_at', ARGV[1])
return 1
`)

// KEYS: owner set, then the record of every hash in ARGV[2..].
// ARGV: now, hashes. Returns -1 when the set holds a hash that was not
// declared, so the caller reads the set again.
var revokeOwnerScript = redis.NewScript(`
local declared = {}
for i = 2, #KEYS do declared[ARGV[i]] = true end
for _, hash in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  if not declared[hash] then return -1 end
end
local n = 0
for i = 2, #KEYS do
  local key = KEYS[i]
  if redis.call('EXISTS', key) == 0 then
    redis.call('SREM', KEYS[1], ARGV[i])
  elseif redis.call('HGET', key, 'revoked') ~= '1' and tonumber(redis.call('HGET', key, 'expires_at')) > tonumber(ARGV[1]) then
    redis.call('HSET', key, 'revoked', '1', 'revoked_at', ARGV[1])
    n = n + 1
  end
end
return n
`)

// KEYS: records of one chain segment. ARGV: now.
// Returns the revoked count and the successor hash of the last record.
var revokeLineageScript = redis.NewScript(`
local n = 0
for _, key in ipairs(KEYS) do
  if redis.call('EXISTS', key) == 1 and redis.call('HGET', key, 'revoked') ~= '1' then
    redis.call('HSET', key, 'revoked', '1', 'revoked_at', ARGV[1])
    n = n + 1
  end
end
return {n, redis.call('HGET', KEYS[#KEYS], 'replaced_by') or ''}
`)

// RedisRepository keeps each token as a hash under {hostauth}:rt:<token hash>
// plus a per-owner set of hashes. Every mutation is a Lua script that only
// touches the keys it declares, so it is atomic on the server. Keys expire
// through PEXPIREAT at expiry plus retention.
//
// All keys share the {hostauth} hash tag. On Redis Cluster the store lives
// in a single slot.
type RedisRepository struct {
	rdb       redis.UniversalClient
	ttl       time.Duration
	retention time.Duration
}

// NewRedisRepository binds the store to rdb. A non-positive retention means
// DefaultRetention.
func NewRedisRepository(rdb redis.UniversalClient, ttl, retention time.Duration) *RedisRepository {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisRepository{rdb: rdb, ttl: ttl, retention: retention}
}

const (
	keyTag       = "{hostauth}"
	recordPrefix = keyTag + ":rt:"
	ownerPrefix  = keyTag + ":owner:"

	// ownerRevokeAttempts bounds re-reads of an owner set that keeps
	// gaining members while it is being revoked.
	ownerRevokeAttempts = 5
)

func recordKey(hash string) string { return recordPrefix + hash }

func ownerKey(ownerID string) string { return ownerPrefix + ownerID }

func micros(t time.Time) int64 { return t.UnixMicro() }

func (r *RedisRepository) deadline(expiresAt time.Time) int64 {
	return expiresAt.Add(r.retention).UnixMilli()
}

func (r *RedisRepository) Create(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error) {
	t, err := newToken(ownerID, now.Truncate(time.Microsecond), r.ttl)
	if err != nil {
		return nil, err
	}

	err = createScript.Run(ctx, r.rdb,
		[]string{recordKey(t.TokenHash), ownerKey(ownerID)},
		t.ID, ownerID, micros(t.IssuedAt), micros(t.ExpiresAt), r.deadline(t.ExpiresAt), t.TokenHash,
	).Err()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return t, nil
}

func (r *RedisRepository) FindActive(ctx context.Context, token string, now time.Time) (Lookup, error) {
	t, err := r.load(ctx, cryptox.HashToken(token))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return Lookup{}, nil
		}
		return Lookup{}, err
	}
	if !t.ActiveAt(now) {
		return Lookup{}, nil
	}
	return Lookup{Token: t, Found: true}, nil
}

func (r *RedisRepository) Rotate(ctx context.Context, oldToken, ownerID string, now time.Time) (*models.RefreshToken, error) {
	now = now.Truncate(time.Microsecond)
	next, err := newToken(ownerID, now, r.ttl)
	if err != nil {
		return nil, err
	}

	ok, err := rotateScript.Run(ctx, r.rdb,
		[]string{recordKey(cryptox.HashToken(oldToken)), recordKey(next.TokenHash), ownerKey(ownerID)},
		ownerID, micros(now), next.TokenHash, next.ID, micros(next.ExpiresAt), r.deadline(next.ExpiresAt),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if ok != 1 {
		return nil, common.ErrInvalidToken
	}
	return next, nil
}

func (r *RedisRepository) Revoke(ctx context.Context, token string, now time.Time) error {
	res, err := revokeScript.Run(ctx, r.rdb,
		[]string{recordKey(cryptox.HashToken(token))}, micros(now)).Int64()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if res < 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *RedisRepository) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	owner := ownerKey(ownerID)
	for i := 0; i < ownerRevokeAttempts; i++ {
		hashes, err := r.rdb.SMembers(ctx, owner).Result()
		if err != nil {
			return 0, fmt.Errorf("redis error: %w", err)
		}

		keys := make([]string, 0, len(hashes)+1)
		args := make([]any, 0, len(hashes)+1)
		keys = append(keys, owner)
		args = append(args, micros(now))
		for _, h := range hashes {
			keys = append(keys, recordKey(h))
			args = append(args, h)
		}

		n, err := revokeOwnerScript.Run(ctx, r.rdb, keys, args...).Int64()
		if err != nil {
			return 0, fmt.Errorf("redis error: %w", err)
		}
		if n >= 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("redis error: token set of owner %s kept changing", ownerID)
}

// RevokeLineage walks replaced_by pointers and revokes the walked segment in
// one script. A successor created by a rotation racing the walk is reported
// back by the script and revoked in the next round.
func (r *RedisRepository) RevokeLineage(ctx context.Context, token string, now time.Time) (int64, error) {
	var total int64
	seen := make(map[string]bool)

	for hash := cryptox.HashToken(token); hash != ""; {
		keys, err := r.chain(ctx, hash, seen)
		if err != nil {
			return total, err
		}
		if len(keys) == 0 {
			break
		}

		res, err := revokeLineageScript.Run(ctx, r.rdb, keys, micros(now)).Slice()
		if err != nil {
			return total, fmt.Errorf("redis error: %w", err)
		}
		if len(res) != 2 {
			return total, fmt.Errorf("redis error: unexpected lineage reply %v", res)
		}
		n, _ := res[0].(int64)
		total += n
		hash, _ = res[1].(string)
	}
	return total, nil
}

// chain follows replaced_by from hash and returns the record keys it
// visited. It stops at a missing record or a hash already in seen.
func (r *RedisRepository) chain(ctx context.Context, hash string, seen map[string]bool) ([]string, error) {
	var keys []string
	for hash != "" && !seen[hash] {
		seen[hash] = true
		key := recordKey(hash)

		vals, err := r.rdb.HMGet(ctx, key, "id", "replaced_by").Result()
		if err != nil {
			return nil, fmt.Errorf("redis error: %w", err)
		}
		if vals[0] == nil {
			break
		}
		keys = append(keys, key)
		hash, _ = vals[1].(string)
	}
	return keys, nil
}

func (r *RedisRepository) Inspect(ctx context.Context, token string) (*models.RefreshToken, error) {
	return r.load(ctx, cryptox.HashToken(token))
}

// DeleteExpired is a no-op: Redis drops records itself once their deadline
// passes.
func (r *RedisRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisRepository) load(ctx context.Context, hash string) (*models.RefreshToken, error) {
	fields, err := r.rdb.HGetAll(ctx, recordKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}
	return decodeRecord(hash, fields)
}

func decodeRecord(hash string, fields map[string]string) (*models.RefreshToken, error) {
	t := &models.RefreshToken{
		ID:        fields["id"],
		TokenHash: hash,
		OwnerID:   fields["owner_id"],
		Revoked:   fields["revoked"] == "1",
	}

	var err error
	if t.IssuedAt, err = parseMicros(fields["issued_at"]); err != nil {
		return nil, fmt.Errorf("decoding issued_at: %w", err)
	}
	if t.ExpiresAt, err = parseMicros(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decoding expires_at: %w", err)
	}
	if v, ok := fields["revoked_at"]; ok {
		at, err := parseMicros(v)
		if err != nil {
			return nil, fmt.Errorf("decoding revoked_at: %w", err)
		}
		t.RevokedAt = &at
	}
	if v, ok := fields["replaced_by"]; ok && v != "" {
		t.ReplacedBy = &v
	}
	return t, nil
}

func parseMicros(s string) (time.Time, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(v).UTC(), nil
}
