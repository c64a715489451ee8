// File: internal/infra/db/postgres/conversation_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/repository"
	"cineai/internal/infra/security"
)

var _ repository.ConversationRepository = (*ConversationRepo)(nil)

// ConversationRepo persists conversations and their append-only messages.
// With a cipher configured, message content is sealed at rest.
type ConversationRepo struct {
	pool   *pgxpool.Pool
	cipher *security.ContentCipher
}

func NewConversationRepo(pool *pgxpool.Pool, cipher *security.ContentCipher) *ConversationRepo {
	return &ConversationRepo{pool: pool, cipher: cipher}
}

func (r *ConversationRepo) Create(ctx context.Context, tx repository.Tx, c *model.Conversation) error {
	const q = `INSERT INTO conversations (id, user_id, created_at, updated_at) VALUES ($1,$2,$3,$4);`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.UserID, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Conversation, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	var c model.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return &c, nil
}

func (r *ConversationRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Conversation, error) {
	const q = `SELECT id, user_id, created_at, updated_at FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC, id;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AppendMessage inserts the message and bumps the conversation's updated_at.
func (r *ConversationRepo) AppendMessage(ctx context.Context, tx repository.Tx, m *model.Message) error {
	content, encrypted := m.Content, false
	if r.cipher != nil {
		sealed, err := r.cipher.Seal(m.Content, m.ID)
		if err != nil {
			return fmt.Errorf("seal message: %w", err)
		}
		content, encrypted = sealed, true
	}
	const q = `
INSERT INTO messages (id, conversation_id, role, content, provider_id, status, encrypted, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	if _, err := execSQL(ctx, r.pool, tx, q, m.ID, m.ConversationID, string(m.Role), content, m.ProviderID,
		string(m.Status), encrypted, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	const touch = `UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1;`
	if _, err := execSQL(ctx, r.pool, tx, touch, m.ConversationID, m.CreatedAt); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) RecentMessages(ctx context.Context, tx repository.Tx, conversationID string, limit int) ([]model.Message, error) {
	const q = `
SELECT id, conversation_id, role, content, provider_id, status, encrypted, created_at FROM (
  SELECT * FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
) recent ORDER BY created_at, id;`
	if limit <= 0 {
		return nil, nil
	}
	rows, err := queryRows(ctx, r.pool, tx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		var (
			m            model.Message
			role, status string
			encrypted    bool
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.ProviderID, &status, &encrypted, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		m.Role, m.Status = model.Role(role), model.MessageStatus(status)
		if encrypted {
			if r.cipher == nil {
				return nil, fmt.Errorf("%w: message %s is encrypted but no key is configured", domain.ErrConfiguration, m.ID)
			}
			if m.Content, err = r.cipher.Open(m.Content, m.ID); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ConversationRepo) CountMessages(ctx context.Context, tx repository.Tx, conversationID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1;`, conversationID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return n, nil
}

// Delete relies on ON DELETE CASCADE for messages.
func (r *ConversationRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM conversations WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
