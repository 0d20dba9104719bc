package keylock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL      = 2 * time.Minute
	defaultPollInterval = 50 * time.Millisecond
	releaseTimeout      = 5 * time.Second
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every replica talking to the same Redis.
// A holder that dies keeps the key only until the TTL expires, so the TTL must
// exceed the longest section (three store calls and the completion call).
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets the lock expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPollInterval sets how often a waiter retries.
func WithPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker creates a Redis-backed Locker.
func NewRedisLocker(client *redis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "lock:conversation:",
		ttl:    defaultLockTTL,
		poll:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		// On failure the key still expires after ttl.
		_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	}, nil
}

var _ Locker = (*RedisLocker)(nil)
