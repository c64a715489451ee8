package memory

import (
	"context"
	"sort"
	"sync"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/repository"
)

var _ repository.ConversationRepository = (*ConversationRepo)(nil)

type ConversationRepo struct {
	mu       sync.RWMutex
	convs    map[string]*model.Conversation
	messages map[string][]model.Message
}

func NewConversationRepo() *ConversationRepo {
	return &ConversationRepo{
		convs:    make(map[string]*model.Conversation),
		messages: make(map[string][]model.Message),
	}
}

func (r *ConversationRepo) Create(_ context.Context, _ repository.Tx, c *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *c
	r.convs[c.ID] = &cp
	return nil
}

func (r *ConversationRepo) Get(_ context.Context, _ repository.Tx, id string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *ConversationRepo) ListByUser(_ context.Context, _ repository.Tx, userID string) ([]*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Conversation
	for _, c := range r.convs {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	return out, nil
}

func (r *ConversationRepo) AppendMessage(_ context.Context, _ repository.Tx, m *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[m.ConversationID]
	if !ok {
		return domain.ErrNotFound
	}
	r.messages[m.ConversationID] = append(r.messages[m.ConversationID], *m)
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	return nil
}

func (r *ConversationRepo) RecentMessages(_ context.Context, _ repository.Tx, id string, limit int) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w := model.Window(r.messages[id], limit)
	return append([]model.Message(nil), w...), nil
}

func (r *ConversationRepo) CountMessages(_ context.Context, _ repository.Tx, id string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages[id]), nil
}

func (r *ConversationRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.convs, id)
	delete(r.messages, id)
	return nil
}
