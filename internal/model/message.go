package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one transcript entry. It is never modified after creation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundMessage is the decoded webhook form.
type InboundMessage struct {
	From string
	Body string
}

// Status values reported back to the HTTP layer.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WebhookResponse is the JSON body returned to the messaging channel.
type WebhookResponse struct {
	Status      string `json:"status"`
	IsNewSender bool   `json:"is_new_sender"`
	Detail      string `json:"detail"`
}
