package repository

import (
	"context"

	"cineai/internal/domain/model"
)

type ConversationRepository interface {
	// Create returns domain.ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, tx Tx, c *model.Conversation) error
	Get(ctx context.Context, tx Tx, id string) (*model.Conversation, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Conversation, error)
	AppendMessage(ctx context.Context, tx Tx, m *model.Message) error
	// RecentMessages returns at most limit messages, oldest first.
	RecentMessages(ctx context.Context, tx Tx, conversationID string, limit int) ([]model.Message, error)
	CountMessages(ctx context.Context, tx Tx, conversationID string) (int, error)
	// Delete removes the conversation and all of its messages.
	Delete(ctx context.Context, tx Tx, id string) error
}
