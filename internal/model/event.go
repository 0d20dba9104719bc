package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeWelcome          EventType = "welcome"
	EventTypeCompletionFailed EventType = "completion_failed"
	EventTypeDeliveryFailed   EventType = "delivery_failed"
)

// TurnEvent is published after a message has been durably appended to a transcript.
type TurnEvent struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Index           int       `json:"index"`
	Message         Message   `json:"message"`
	PublishedAt     time.Time `json:"published_at"`
}

// ConversationEvent represents a non-message event in a conversation.
type ConversationEvent struct {
	ID              string         `json:"id"`
	ConversationKey string         `json:"conversation_key"`
	Type            EventType      `json:"type"`
	Reason          string         `json:"reason,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
