package checkout

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/checkout/pkg/redis"
)

// Cache holds snapshots for polling clients. It is never consulted by
// operations that change state.
type Cache interface {
	Get(ctx context.Context, id string) (*Snapshot, error)
	Set(ctx context.Context, s *Snapshot) error
	Delete(ctx context.Context, id string) error
}

// RedisCache stores snapshots as JSON with a short TTL.
type RedisCache struct {
	c *redis.JSONCache[Snapshot]
}

// NewRedisCache caches snapshots under prefix for ttl.
func NewRedisCache(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{c: redis.NewJSONCache[Snapshot](client, prefix+"snapshot:", ttl)}
}

func (r *RedisCache) Get(ctx context.Context, id string) (*Snapshot, error) {
	s, err := r.c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisCache) Set(ctx context.Context, s *Snapshot) error {
	return r.c.Set(ctx, s.ID, *s)
}

func (r *RedisCache) Delete(ctx context.Context, id string) error {
	return r.c.Delete(ctx, id)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*Snapshot, error) { return nil, redis.ErrCacheMiss }
func (nopCache) Set(context.Context, *Snapshot) error           { return nil }
func (nopCache) Delete(context.Context, string) error           { return nil }

func isCacheMiss(err error) bool {
	return errors.Is(err, redis.ErrCacheMiss)
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = nopCache{}
)
