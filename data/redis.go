package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "oidc"

// RedisStore is the production storage adapter. Single-key SET/GET/DEL
// are atomic on the Redis side, which is all the serialization the
// contract asks for.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, url string, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(kind Kind, id string) string {
	return s.prefix + ":" + string(kind) + ":" + id
}

func (s *RedisStore) uidKey(uid string) string {
	return s.prefix + ":uid:" + uid
}

func (s *RedisStore) grantKey(grantID string) string {
	return s.prefix + ":grant:" + grantID
}

func (s *RedisStore) Upsert(ctx context.Context, kind Kind, id string, payload []byte, expiresIn time.Duration) error {
	key := s.recordKey(kind, id)
	if err := s.client.Set(ctx, key, payload, expiresIn).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	idx := extractIndexes(payload)
	if idx.UID != "" {
		if err := s.client.Set(ctx, s.uidKey(idx.UID), id, expiresIn).Err(); err != nil {
			return fmt.Errorf("set uid index for %s: %w", key, err)
		}
	}
	if idx.GrantID != "" {
		gk := s.grantKey(idx.GrantID)
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, gk, key)
		// The set must outlive its longest-lived member: set the TTL if
		// absent, otherwise only ever extend it.
		pipe.ExpireNX(ctx, gk, expiresIn)
		pipe.ExpireGT(ctx, gk, expiresIn)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("register %s under grant: %w", key, err)
		}
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, kind Kind, id string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, s.recordKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", s.recordKey(kind, id), err)
	}
	// A corrupt payload is indistinguishable from an absent one; it will
	// age out on its own TTL.
	if !json.Valid(payload) {
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *RedisStore) FindByUID(ctx context.Context, kind Kind, uid string) ([]byte, bool, error) {
	id, err := s.client.Get(ctx, s.uidKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get uid index %s: %w", uid, err)
	}
	return s.Find(ctx, kind, id)
}

// consumeScript stamps the consumed timestamp in one server-side step,
// so concurrent consumers race inside Redis and exactly one wins.
var consumeScript = redis.NewScript(`
local payload = redis.call('GET', KEYS[1])
if not payload then
	return -1
end
local doc = cjson.decode(payload)
if doc['consumed'] then
	return 0
end
doc['consumed'] = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(doc), 'KEEPTTL')
return 1
`)

func (s *RedisStore) Consume(ctx context.Context, kind Kind, id string) error {
	key := s.recordKey(kind, id)
	res, err := consumeScript.Run(ctx, s.client, []string{key}, time.Now().Unix()).Int()
	if err != nil {
		return fmt.Errorf("consume %s: %w", key, err)
	}
	switch res {
	case -1:
		return fmt.Errorf("consume %s: record not found", key)
	case 0:
		return fmt.Errorf("consume %s: %w", key, ErrAlreadyConsumed)
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context, kind Kind, id string) error {
	key := s.recordKey(kind, id)

	// Read first so the uid index can be cleaned up alongside. Cleanup
	// failures are tolerated, the index entry expires with its own TTL.
	if payload, err := s.client.Get(ctx, key).Bytes(); err == nil {
		if idx := extractIndexes(payload); idx.UID != "" {
			_ = s.client.Del(ctx, s.uidKey(idx.UID)).Err()
		}
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RevokeByGrantID(ctx context.Context, grantID string) error {
	gk := s.grantKey(grantID)
	members, err := s.client.SMembers(ctx, gk).Result()
	if err != nil {
		return fmt.Errorf("members of %s: %w", gk, err)
	}

	pipe := s.client.TxPipeline()
	for _, key := range members {
		pipe.Del(ctx, key)
	}
	pipe.Del(ctx, gk)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke grant %s: %w", grantID, err)
	}
	return nil
}
