package domain

import (
	"fmt"
	"time"
)

// ChatRole represents the author of a chat history entry
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage represents one turn in an issue's question/answer history.
type ChatMessage struct {
	Role       ChatRole
	Text       string
	References []string
	CreatedAt  time.Time
}

// NewChatMessage creates a new ChatMessage instance
func NewChatMessage(role ChatRole, text string, references []string, createdAt time.Time) *ChatMessage {
	return &ChatMessage{
		Role:       role,
		Text:       text,
		References: references,
		CreatedAt:  createdAt,
	}
}

// ValidateChatMessage validates a ChatMessage instance
func ValidateChatMessage(m *ChatMessage) error {
	if m == nil {
		return fmt.Errorf("chat message cannot be nil")
	}

	if !isValidChatRole(m.Role) {
		return fmt.Errorf("chat message Role is invalid: %s", m.Role)
	}

	if m.Text == "" {
		return fmt.Errorf("chat message Text is required")
	}

	return nil
}

// isValidChatRole checks if a ChatRole is valid
func isValidChatRole(r ChatRole) bool {
	switch r {
	case ChatRoleUser, ChatRoleAssistant:
		return true
	}
	return false
}
