package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key guarding the Geo log cursor
const DefaultKey = "geo:log_cursor_processing"

// renewScript extends the lease if the caller owns it or nobody does
var renewScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] or current == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the lease only if the caller owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease stores the lease as a Redis key holding the owner UUID with a
// PX expiry. Every process that talks to the same Redis contends for it.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisLease creates a lease on key with the given TTL
func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// TryObtain sets the key with NX so only one caller can win
func (l *RedisLease) TryObtain(ctx context.Context) (string, bool, error) {
	owner := newOwner()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to obtain lease %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return owner, true, nil
}

// Renew re-acquires the lease for owner
func (l *RedisLease) Renew(ctx context.Context, owner string) (bool, error) {
	res, err := renewScript.Run(ctx, l.client, []string{l.key}, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", l.key, err)
	}
	return res == 1, nil
}

// Release deletes the lease if owner still holds it
func (l *RedisLease) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of the key
func (l *RedisLease) TTL(ctx context.Context) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, l.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read lease ttl %s: %w", l.key, err)
	}
	// -1 and -2 mean no expiry and no key
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
