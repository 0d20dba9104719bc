// Package model defines data structures for the WhatsApp assistant.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownRole is returned when a stored transcript carries a role outside Role's constants.
var ErrUnknownRole = errors.New("unknown message role")

// Conversation is the durable transcript of one sender. Messages are append-only and
// kept in chronological order.
type Conversation struct {
	Key        string    `json:"phone_number"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewConversation starts an empty transcript for key.
func NewConversation(key string, now time.Time) *Conversation {
	return &Conversation{
		Key:        key,
		Messages:   []Message{},
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Append adds a message and advances ModifiedAt. ModifiedAt never moves backwards.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	if msg.Timestamp.After(c.ModifiedAt) {
		c.ModifiedAt = msg.Timestamp
	}
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Messages)
}

// Last returns the newest n messages, oldest first. All messages when fewer than n exist.
func (c *Conversation) Last(n int) []Message {
	if c == nil || n <= 0 {
		return nil
	}
	if len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// Validate checks every message role. Stores call it on decoded transcripts.
func (c *Conversation) Validate() error {
	for i, msg := range c.Messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("%w %q at index %d", ErrUnknownRole, msg.Role, i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias stored state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// ConversationResponse is the admin API view of a transcript.
type ConversationResponse struct {
	Key          string    `json:"key"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// NewConversationResponse builds the admin view of conv.
func NewConversationResponse(conv *Conversation) *ConversationResponse {
	return &ConversationResponse{
		Key:          conv.Key,
		Messages:     conv.Messages,
		MessageCount: len(conv.Messages),
		CreatedAt:    conv.CreatedAt,
		ModifiedAt:   conv.ModifiedAt,
	}
}
