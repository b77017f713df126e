// Package redis wraps github.com/redis/go-redis/v9 with a retrying Connect, a
// health check and JSONCache, a typed JSON key-value cache with a key prefix
// and TTL.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	snapshots := redis.NewJSONCache[Snapshot](client, cfg.KeyPrefix+"snapshot:", time.Minute)
package redis
