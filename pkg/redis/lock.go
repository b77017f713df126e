package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose TTL ran out cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived exclusive locks.
type Locker struct {
	db     redis.UniversalClient
	prefix string
}

// NewLocker returns a Locker storing keys under prefix.
func NewLocker(db redis.UniversalClient, prefix string) *Locker {
	if db == nil {
		panic("redis: nil client")
	}
	return &Locker{db: db, prefix: prefix + "lock:"}
}

// TryLock acquires key for ttl without waiting. ok is false when another
// holder has it. The returned unlock is safe to call more than once.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.db.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		// detached: the caller's context is usually done by now
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.db, []string{l.prefix + key}, token).Err()
	}, true, nil
}
