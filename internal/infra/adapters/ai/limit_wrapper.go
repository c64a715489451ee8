package ai

import (
	"context"

	"cineai/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ChatProvider = (*limitedChat)(nil)

type limitedChat struct {
	adapter.ChatProvider
	sem chan struct{}
}

// NewLimitedChat caps concurrent calls to inner. Waiting for a slot honours ctx.
func NewLimitedChat(inner adapter.ChatProvider, maxConcurrent int) adapter.ChatProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedChat{
		ChatProvider: inner,
		sem:          make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedChat) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedChat) Chat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatResponse, error) {
	if err := l.acquire(ctx); err != nil {
		return adapter.ChatResponse{}, err
	}
	defer func() { <-l.sem }()
	return l.ChatProvider.Chat(ctx, req)
}

func (l *limitedChat) ChatStream(ctx context.Context, req adapter.ChatRequest, emit func(adapter.StreamChunk) error) (adapter.ChatResponse, error) {
	if err := l.acquire(ctx); err != nil {
		return adapter.ChatResponse{}, err
	}
	defer func() { <-l.sem }()
	return l.ChatProvider.ChatStream(ctx, req, emit)
}
