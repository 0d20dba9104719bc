package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore implements Store over PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore constructs a PostgresStore. The table name is validated as a
// plain identifier because it is interpolated into SQL.
func NewPostgresStore(pool *pgxpool.Pool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	if table == "" {
		table = DefaultTable
	}
	if !pgIdentRe.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table identifier %q", ErrInvalidConfig, table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the conversations table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	phone_number text PRIMARY KEY,
	messages     jsonb NOT NULL DEFAULT '[]'::jsonb,
	created_at   timestamptz NOT NULL DEFAULT now(),
	modified_at  timestamptz NOT NULL DEFAULT now()
)`, pgx.Identifier{s.table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (*model.Conversation, error) {
	query := fmt.Sprintf(
		`SELECT messages, created_at, modified_at FROM %s WHERE phone_number = $1`,
		pgx.Identifier{s.table}.Sanitize(),
	)

	conv := &model.Conversation{Key: key}
	var raw []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&raw, &conv.CreatedAt, &conv.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if err := json.Unmarshal(raw, &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return conv, nil
}

// Upsert implements Store with a single INSERT ... ON CONFLICT statement.
func (s *PostgresStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (phone_number, messages, created_at, modified_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (phone_number) DO UPDATE
SET messages = EXCLUDED.messages, modified_at = EXCLUDED.modified_at`,
		pgx.Identifier{s.table}.Sanitize(),
	)

	if _, err := s.pool.Exec(ctx, query, conv.Key, messages, conv.CreatedAt, conv.ModifiedAt); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// Ping implements Pinger.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store. The pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Pinger = (*PostgresStore)(nil)
)
