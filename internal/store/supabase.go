package store

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"

	"github.com/capitalize-ai/whatsapp-assistant/internal/ctxutil"
	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
)

// SupabaseConfig holds Supabase connection configuration.
type SupabaseConfig struct {
	URL    string
	APIKey string
	Table  string
}

// SupabaseStore implements Store over a Supabase (PostgREST) table:
//
//	phone_number text primary key, messages jsonb, created_at timestamptz, modified_at timestamptz
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

// NewSupabaseStore creates a new Supabase-backed store.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: supabase URL is required", ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: supabase API key is required", ErrInvalidConfig)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseStore{
		client: client,
		table:  cfg.Table,
	}, nil
}

// Get implements Store.
func (s *SupabaseStore) Get(ctx context.Context, key string) (*model.Conversation, error) {
	var rows []model.Conversation
	err := ctxutil.Run(ctx, func() error {
		_, err := s.client.From(s.table).
			Select("*", "", false).
			Eq("phone_number", key).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	conv := rows[0]
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return &conv, nil
}

// Upsert implements Store. The row is written in one PostgREST request with
// on_conflict=phone_number, so the replace is atomic per key. The client takes
// no context: a request abandoned on timeout may still land after the caller's
// lock is released.
func (s *SupabaseStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	err := ctxutil.Run(ctx, func() error {
		_, _, err := s.client.From(s.table).
			Upsert(conv, "phone_number", "minimal", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// Ping implements Pinger with a cheap bounded select.
func (s *SupabaseStore) Ping(ctx context.Context) error {
	return ctxutil.Run(ctx, func() error {
		_, _, err := s.client.From(s.table).
			Select("phone_number", "", false).
			Limit(1, "").
			Execute()
		return err
	})
}

// Close implements Store.
func (s *SupabaseStore) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

var (
	_ Store  = (*SupabaseStore)(nil)
	_ Pinger = (*SupabaseStore)(nil)
)
