package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
)

// RedisStore implements Store with one JSON document per conversation.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-based conversation store. A zero ttl keeps keys forever.
func NewRedisStore(client *redis.Client, namespace string, ttl time.Duration) *RedisStore {
	if namespace == "" {
		namespace = DefaultTable
	}
	return &RedisStore{
		client: client,
		prefix: namespace + ":",
		ttl:    ttl,
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (*model.Conversation, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(val, &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

// Upsert implements Store. SET replaces the document atomically.
func (s *RedisStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	if err := s.client.Set(ctx, s.key(conv.Key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// Ping implements Pinger.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store. The client belongs to the caller, which may share it with the lock.
func (s *RedisStore) Close() error {
	return nil
}

// key constructs the Redis key for a conversation key.
func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Pinger = (*RedisStore)(nil)
)
