package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/pkg/redis"
)

type cachedIntent struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func TestJSONCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, redis.Healthcheck(client)(ctx))

	prefix := "test:" + uuid.NewString() + ":"
	cache := redis.NewJSONCache[cachedIntent](client, prefix, time.Minute)

	_, err = cache.Get(ctx, "ci_1")
	assert.ErrorIs(t, err, redis.ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "ci_1", cachedIntent{ID: "ci_1", State: "created"}))
	got, err := cache.Get(ctx, "ci_1")
	require.NoError(t, err)
	assert.Equal(t, "created", got.State)

	require.NoError(t, cache.Delete(ctx, "ci_1"))
	_, err = cache.Get(ctx, "ci_1")
	assert.ErrorIs(t, err, redis.ErrCacheMiss)
}

func TestConnectErrors(t *testing.T) {
	t.Parallel()

	_, err := redis.Connect(context.Background(), redis.Config{})
	assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)

	_, err = redis.Connect(context.Background(), redis.Config{ConnectionURL: "://bad"})
	assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
}

func TestNewJSONCachePanicsOnNilClient(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { redis.NewJSONCache[cachedIntent](nil, "", 0) })
}

func TestLockerTryLock(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := redis.NewLocker(client, "test:"+uuid.NewString()+":")

	unlock, ok, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be granted twice")

	unlock()
	unlock()

	again, ok, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}
