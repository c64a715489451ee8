package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/repository"
	"cineai/internal/infra/logging"
)

// ConversationStore is the ordered, append-only message history of each conversation.
type ConversationStore interface {
	// Open returns the conversation, creating it for userID on first use.
	// A conversation owned by someone else yields domain.ErrForbidden.
	Open(ctx context.Context, id, userID string) (*model.Conversation, error)
	Get(ctx context.Context, id, userID string) (*model.Conversation, error)
	List(ctx context.Context, userID string) ([]*model.Conversation, error)
	// Append adds msgs in order; they become visible together.
	Append(ctx context.Context, id string, msgs ...model.Message) error
	// History returns the last limit messages, oldest first.
	History(ctx context.Context, id string, limit int) ([]model.Message, error)
	// Clear deletes the conversation and every message. It cannot be undone.
	Clear(ctx context.Context, id, userID string) error
}

// WindowCache keeps the newest messages of hot conversations.
// Push must be a no-op for conversations that were never seeded.
type WindowCache interface {
	Window() int
	Recent(ctx context.Context, id string, limit int) ([]model.Message, bool, error)
	Seed(ctx context.Context, id string, msgs []model.Message) error
	Push(ctx context.Context, id string, msgs ...model.Message) error
	Drop(ctx context.Context, id string) error
}

var _ ConversationStore = (*conversationStore)(nil)

type conversationStore struct {
	repo  repository.ConversationRepository
	cache WindowCache
	tm    repository.TransactionManager
	locks *keyedMutex
	log   *zerolog.Logger
	now   func() time.Time
}

// NewConversationStore wires the repository with an optional cache and transaction manager (both may be nil).
func NewConversationStore(repo repository.ConversationRepository, cache WindowCache, tm repository.TransactionManager, logger *zerolog.Logger) *conversationStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "ConversationStore").Logger()
	return &conversationStore{repo: repo, cache: cache, tm: tm, locks: newKeyedMutex(), log: &l, now: time.Now}
}

func (s *conversationStore) Open(ctx context.Context, id, userID string) (*model.Conversation, error) {
	c, err := s.repo.Get(ctx, nil, id)
	if err == nil {
		return owned(c, userID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	c, err = model.NewConversation(id, userID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, nil, c); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		// lost a creation race
		if c, err = s.repo.Get(ctx, nil, id); err != nil {
			return nil, err
		}
		return owned(c, userID)
	}
	return c, nil
}

func (s *conversationStore) Get(ctx context.Context, id, userID string) (*model.Conversation, error) {
	c, err := s.repo.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return owned(c, userID)
}

func (s *conversationStore) List(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return s.repo.ListByUser(ctx, nil, userID)
}

func (s *conversationStore) Append(ctx context.Context, id string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.now()
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = ulid.Make().String()
		}
		m.ConversationID = id
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.Status == "" {
			m.Status = model.MessageOK
		}
		out[i] = m
	}

	write := func(ctx context.Context, tx repository.Tx) error {
		for i := range out {
			if err := s.repo.AppendMessage(ctx, tx, &out[i]); err != nil {
				return err
			}
		}
		return nil
	}
	var err error
	if s.tm != nil {
		err = s.tm.WithTx(ctx, pgx.TxOptions{}, write)
	} else {
		err = write(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}

	if s.cache != nil {
		if cerr := s.cache.Push(ctx, id, out...); cerr != nil {
			// a stale window is worse than a cold one
			logging.With(ctx, s.log).Warn().Err(cerr).Str("conversation_id", id).Msg("window push failed; dropping")
			_ = s.cache.Drop(ctx, id)
		}
	}
	return nil
}

func (s *conversationStore) History(ctx context.Context, id string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	useCache := s.cache != nil && limit <= s.cache.Window()
	if useCache {
		msgs, ok, err := s.cache.Recent(ctx, id, limit)
		if err == nil && ok {
			return msgs, nil
		}
		if err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Str("conversation_id", id).Msg("window read failed")
		}
	}

	if !useCache {
		return s.repo.RecentMessages(ctx, nil, id, limit)
	}

	// Seed under the conversation lock so no append lands between the read and the seed.
	unlock := s.locks.Lock(id)
	defer unlock()
	window, err := s.repo.RecentMessages(ctx, nil, id, s.cache.Window())
	if err != nil {
		return nil, err
	}
	if len(window) > 0 {
		if err := s.cache.Seed(ctx, id, window); err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Str("conversation_id", id).Msg("window seed failed")
		}
	}
	return model.Window(window, limit), nil
}

func (s *conversationStore) Clear(ctx context.Context, id, userID string) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.repo.Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Drop(ctx, id); err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Str("conversation_id", id).Msg("window drop failed")
		}
	}
	return nil
}

func owned(c *model.Conversation, userID string) (*model.Conversation, error) {
	if c.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return c, nil
}
