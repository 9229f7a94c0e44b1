package taskstream

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusStore persists status records. Writes are blind upserts with a TTL;
// nothing is read back on the write path.
type StatusStore interface {
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// RedisStatusStore stores records as plain Redis strings (SET key value EX ttl).
type RedisStatusStore struct {
	rdb redis.UniversalClient
}

// NewRedisStatusStore returns a StatusStore backed by rdb.
func NewRedisStatusStore(rdb redis.UniversalClient) *RedisStatusStore {
	return &RedisStatusStore{rdb: rdb}
}

func (s *RedisStatusStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStatusStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
