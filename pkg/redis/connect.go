package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/checkout/pkg/retry"
)

// Connect parses cfg.ConnectionURL and pings the server until it answers,
// RetryAttempts is spent or ConnectTimeout elapses.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	policy := retry.Policy{
		MaxAttempts: max(cfg.RetryAttempts, 1),
		Backoff:     retry.FixedBackoff{Interval: cfg.RetryInterval},
		Retryable:   func(error) bool { return true },
	}

	client, err := retry.DoValue(ctx, policy, func(ctx context.Context, _ int) (*redis.Client, error) {
		c := redis.NewClient(opts)
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}
