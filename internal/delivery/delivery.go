// Package delivery sends replies to senders over the messaging channel.
package delivery

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
)

// Sender delivers text to the owner of a conversation key.
type Sender interface {
	Send(ctx context.Context, key identity.Key, text string) error
}

// LogSender logs outbound messages instead of sending them. Used when no
// channel credentials are configured.
type LogSender struct {
	logger *logger.Logger
}

// NewLogSender creates a new log-only sender.
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, key identity.Key, text string) error {
	s.logger.Info("outbound message (delivery disabled)",
		zap.String("to", key.WhatsAppAddress()),
		zap.Int("chars", utf8.RuneCountInString(text)),
	)
	return ctx.Err()
}

// splitMessage cuts text into chunks of at most limit runes, preferring to break
// on a newline or space in the second half of a chunk.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' || runes[i-1] == ' ' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

var _ Sender = (*LogSender)(nil)
