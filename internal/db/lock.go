package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our token, so
// an expired lock re-acquired by another caller is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Locker is a redis-backed mutex used to serialize the externally-effectful
// lifecycle calls (verify, payout) per escrow. The conditional status write
// in the store stays the authoritative gate; the lock only prevents two
// concurrent callers from both issuing the judge or settlement call.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// TryLock acquires key for ttl. ok is false when another caller holds it.
// The returned release func is safe to call regardless of outcome.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.New().String()
	ok, err = l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		releaseScript.Run(context.Background(), l.rdb, []string{key}, token)
	}, true, nil
}
