package ai

import (
	"context"
	"strings"
	"time"

	"cineai/internal/domain/ports/adapter"
)

var _ adapter.ChatProvider = (*EchoAdapter)(nil)

// EchoAdapter answers locally for dev mode. It never fails and needs no credentials.
type EchoAdapter struct {
	id    string
	delay time.Duration
}

func NewEchoAdapter(id string, delay time.Duration) *EchoAdapter {
	return &EchoAdapter{id: id, delay: delay}
}

func (a *EchoAdapter) ID() string      { return a.id }
func (a *EchoAdapter) Available() bool { return true }

func (a *EchoAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatResponse, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return adapter.ChatResponse{}, ctx.Err()
	}
	return adapter.ChatResponse{Content: a.reply(req), Model: "echo"}, nil
}

func (a *EchoAdapter) ChatStream(ctx context.Context, req adapter.ChatRequest, emit func(adapter.StreamChunk) error) (adapter.ChatResponse, error) {
	reply := a.reply(req)
	for _, w := range strings.SplitAfter(reply, " ") {
		select {
		case <-time.After(a.delay / 10):
		case <-ctx.Done():
			return adapter.ChatResponse{}, ctx.Err()
		}
		if err := emit(adapter.StreamChunk{Delta: w}); err != nil {
			return adapter.ChatResponse{}, err
		}
	}
	return adapter.ChatResponse{Content: reply, Model: "echo"}, nil
}

func (a *EchoAdapter) reply(req adapter.ChatRequest) string {
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	return "echo: " + last
}
