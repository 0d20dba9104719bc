// Package store persists conversation transcripts keyed by sender.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
)

// Common errors for conversation store operations.
var (
	ErrNotFound         = errors.New("conversation not found")
	ErrInvalidConfig    = errors.New("invalid store configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// DefaultTable is the table (or key namespace) holding transcripts.
const DefaultTable = "conversations"

// Store is the durable home of conversations. Implementations must be safe for
// concurrent use and must replace a transcript atomically per key.
type Store interface {
	// Get returns the conversation for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*model.Conversation, error)

	// Upsert replaces the full transcript for conv.Key, creating it when absent.
	// CreatedAt of an existing record is preserved.
	Upsert(ctx context.Context, conv *model.Conversation) error

	// Close releases resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Type selects a store driver.
type Type string

const (
	TypeMemory   Type = "memory"
	TypeSupabase Type = "supabase"
	TypeRedis    Type = "redis"
	TypePostgres Type = "postgres"
)

// Option is a functional option for configuring a store.
type Option func(*storeConfig)

type storeConfig struct {
	table        string
	supabaseURL  string
	supabaseKey  string
	redisClient  *redis.Client
	redisTTL     time.Duration
	postgresPool *pgxpool.Pool
}

// WithTable overrides the table name (Supabase, Postgres) or key prefix (Redis).
func WithTable(table string) Option {
	return func(c *storeConfig) {
		c.table = table
	}
}

// WithSupabase sets the Supabase project URL and API key.
func WithSupabase(url, apiKey string) Option {
	return func(c *storeConfig) {
		c.supabaseURL = url
		c.supabaseKey = apiKey
	}
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) Option {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the expiry of transcript keys. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) Option {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithPostgresPool sets the pgx pool for the Postgres store. The store does not own it.
func WithPostgresPool(pool *pgxpool.Pool) Option {
	return func(c *storeConfig) {
		c.postgresPool = pool
	}
}

// New creates a Store of the given type.
func New(ctx context.Context, storeType Type, opts ...Option) (Store, error) {
	cfg := &storeConfig{table: DefaultTable}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case TypeMemory:
		return NewMemoryStore(), nil

	case TypeSupabase:
		return NewSupabaseStore(SupabaseConfig{
			URL:    cfg.supabaseURL,
			APIKey: cfg.supabaseKey,
			Table:  cfg.table,
		})

	case TypeRedis:
		if cfg.redisClient == nil {
			return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
		}
		return NewRedisStore(cfg.redisClient, cfg.table, cfg.redisTTL), nil

	case TypePostgres:
		if cfg.postgresPool == nil {
			return nil, fmt.Errorf("%w: postgres pool is required", ErrInvalidConfig)
		}
		st, err := NewPostgresStore(cfg.postgresPool, cfg.table)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return st, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, storeType)
	}
}
