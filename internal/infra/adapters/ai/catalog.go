package ai

import (
	"context"
	"fmt"
	"time"

	"cineai/internal/config"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
)

// Registered is one constructed provider with its enabled flag.
type Registered struct {
	Provider adapter.ChatProvider
	Enabled  bool
}

// BuildChat constructs every provider listed for the chat capability.
// Unknown kinds are a configuration error.
func BuildChat(ctx context.Context, cfg *config.Config) ([]Registered, error) {
	ids := cfg.Order(model.CapabilityChat)
	out := make([]Registered, 0, len(ids))
	for _, id := range ids {
		pc := cfg.Providers[id]
		p, err := newChat(ctx, id, pc)
		if err != nil {
			return nil, fmt.Errorf("chat provider %s: %w", id, err)
		}
		out = append(out, Registered{Provider: NewLimitedChat(p, pc.ConcurrentLimit), Enabled: pc.IsEnabled()})
	}
	return out, nil
}

func newChat(ctx context.Context, id string, pc config.ProviderConfig) (adapter.ChatProvider, error) {
	switch kind := pc.KindOr(id); kind {
	case "openai":
		return NewOpenAIAdapter(id, pc.APIKey, pc.Model, pc.BaseURL, pc.MaxOutputTokens), nil
	case "gemini":
		return NewGeminiAdapter(ctx, id, pc.APIKey, pc.BaseURL, pc.Model, pc.MaxOutputTokens)
	case "compat", "metis":
		return NewCompatAdapter(id, pc.APIKey, pc.Model, pc.BaseURL, pc.Timeout), nil
	case "echo":
		return NewEchoAdapter(id, 50*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown chat kind %q", kind)
	}
}
