package store

import (
	"context"
	"sync"

	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
)

// MemoryStore implements Store using an in-memory map.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[key]
	if !exists {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := conv.Clone()
	if existing, ok := s.conversations[conv.Key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.conversations[conv.Key] = stored
	return nil
}

// Ping implements Pinger.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make(map[string]*model.Conversation)
	return nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Pinger = (*MemoryStore)(nil)
)
