package chatclient

import (
	"strings"

	"github.com/hanna4328/chat-bot/internal/models"
)

const (
	DefaultFraming       = "You are a friendly and helpful ONWARD chatbot. Be encouraging and concise."
	DefaultHistoryWindow = 20

	// Greeting opens a fresh conversation.
	Greeting = "A new year doesn't ask for perfection. Just honesty.\nWhat's one promise you quietly made to yourself?"
)

// BuildPrompt renders the framing followed by the last window messages of
// history, which already ends with the new user turn. A window of zero or
// less keeps the whole history.
func BuildPrompt(framing string, history []models.ChatMessage, window int) string {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	var b strings.Builder
	b.WriteString(framing)
	b.WriteString("\n\nConversation History:\n")
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		if m.Role == models.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Text)
	}
	b.WriteString("\n\nAssistant:")
	return b.String()
}
