package session

import (
	"github.com/capitalize-ai/whatsapp-assistant/internal/llm"
	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
)

// ContextWindow is the number of transcript entries sent with each completion call.
const ContextWindow = 9

// BuildContext returns the system prompt followed by the newest ContextWindow
// entries of conv, oldest first, whatever their roles. conv may be nil.
func BuildContext(systemPrompt string, conv *model.Conversation) []llm.ChatMessage {
	recent := conv.Last(ContextWindow)

	out := make([]llm.ChatMessage, 0, len(recent)+1)
	out = append(out, llm.ChatMessage{Role: string(model.RoleSystem), Content: systemPrompt})
	for _, msg := range recent {
		out = append(out, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
