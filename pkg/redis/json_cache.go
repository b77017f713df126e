package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONCache stores values of T as JSON under prefixed keys.
type JSONCache[T any] struct {
	db     redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewJSONCache creates a cache. A zero ttl stores keys without expiry.
func NewJSONCache[T any](db redis.UniversalClient, prefix string, ttl time.Duration) *JSONCache[T] {
	if db == nil {
		panic("redis: nil client")
	}
	return &JSONCache[T]{db: db, prefix: prefix, ttl: ttl}
}

// Get returns ErrCacheMiss when the key is absent.
func (c *JSONCache[T]) Get(ctx context.Context, key string) (T, error) {
	var v T
	raw, err := c.db.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, ErrCacheMiss
	}
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

func (c *JSONCache[T]) Set(ctx context.Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.db.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}

func (c *JSONCache[T]) Delete(ctx context.Context, key string) error {
	return c.db.Del(ctx, c.prefix+key).Err()
}
