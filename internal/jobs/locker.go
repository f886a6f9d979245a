package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "storyline:job-lock:"

// Locker is a cross-instance mutual exclusion primitive keyed by job type.
type Locker interface {
	Acquire(ctx context.Context, key string) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) error
	// Extend resets the lock's expiry. held is false once the key no longer
	// carries token.
	Extend(ctx context.Context, key, token string) (held bool, err error)
}

func lockKey(jobType Type) string {
	return lockKeyPrefix + string(jobType)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis set nx %s: %w", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

func (l *RedisLocker) Extend(ctx context.Context, key, token string) (bool, error) {
	extended, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis extend %s: %w", key, err)
	}
	return extended == 1, nil
}

// TTL is the expiry applied by Acquire and Extend.
func (l *RedisLocker) TTL() time.Duration {
	return l.ttl
}
