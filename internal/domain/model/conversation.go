package model

import (
	"strings"
	"time"

	"cineai/internal/domain"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type MessageStatus string

const (
	MessageOK MessageStatus = "ok"
	// MessageFailed marks an assistant turn cut short by a stream failure or a client disconnect.
	MessageFailed MessageStatus = "failed"
)

// Message is one turn within a conversation. Messages are append-only.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	ProviderID     string        `json:"provider_id,omitempty"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Conversation is owned by a single user; its messages live in the ConversationStore.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewConversation(id, userID string, now time.Time) (*Conversation, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

// Window returns the last n messages in chronological order.
func Window(msgs []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
