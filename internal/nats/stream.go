package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
)

const (
	// StreamName is the name of the conversations stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"
)

// publisher is the part of JetStream used to append events.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StreamManager appends conversation turns and events to JetStream. The stream is an
// audit trail; the conversation store stays the source of truth.
type StreamManager struct {
	client *Client
	pub    publisher
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client, pub: client.JetStream()}
}

// EnsureStream ensures the conversations stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour, // 1 year
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "WhatsApp conversation turns and events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for a transcript turn.
func MessageSubject(conversationKey string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationKey, role)
}

// EventSubject returns the subject for an event.
func EventSubject(conversationKey string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationKey, eventType)
}

// ConversationFilter returns the filter subject for everything in a conversation.
func ConversationFilter(conversationKey string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, conversationKey)
}

// PublishTurn publishes a persisted transcript turn. The event ID doubles as the
// JetStream message ID so retries are deduplicated.
func (m *StreamManager) PublishTurn(ctx context.Context, turn *model.TurnEvent) error {
	subject := MessageSubject(turn.ConversationKey, turn.Message.Role)
	return m.publish(ctx, subject, turn.ID, turn)
}

// PublishEvent publishes a conversation event.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) error {
	subject := EventSubject(event.ConversationKey, event.Type)
	return m.publish(ctx, subject, event.ID, event)
}

func (m *StreamManager) publish(ctx context.Context, subject, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", subject, err)
	}

	var opts []jetstream.PublishOpt
	if id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}

	if _, err := m.pub.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}
