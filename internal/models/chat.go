package models

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Important bool      `json:"important,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
