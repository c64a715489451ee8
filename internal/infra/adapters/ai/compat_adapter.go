package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ChatProvider = (*CompatAdapter)(nil)

// CompatAdapter talks to any OpenAI-compatible gateway (Metis, OpenRouter, a local vLLM)
// over plain HTTP. Chat completions path is /chat/completions; auth is a bearer token.
type CompatAdapter struct {
	id     string
	apiKey string
	model  string
	http   *httpx.Client
}

func NewCompatAdapter(id, apiKey, model, base string, timeout time.Duration) *CompatAdapter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if base == "" {
		base = "https://api.metisai.ir/openai/v1"
	}
	return &CompatAdapter{
		id:     id,
		apiKey: apiKey,
		model:  model,
		http:   httpx.New(id, base, timeout, map[string]string{"Authorization": "Bearer " + apiKey}),
	}
}

func (m *CompatAdapter) ID() string      { return m.id }
func (m *CompatAdapter) Available() bool { return m.apiKey != "" }

type compatRequest struct {
	Model         string            `json:"model"`
	Messages      []adapter.Message `json:"messages"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *compatUsage) toUsage() adapter.Usage {
	if u == nil {
		return adapter.Usage{}
	}
	return adapter.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func (m *CompatAdapter) body(req adapter.ChatRequest) compatRequest {
	msgs := make([]adapter.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, adapter.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)
	return compatRequest{
		Model:       modelOrDefault(req.Model, m.model),
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (m *CompatAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatResponse, error) {
	var payload struct {
		Model   string `json:"model"`
		Choices []struct {
			Message adapter.Message `json:"message"`
		} `json:"choices"`
		Usage *compatUsage `json:"usage"`
	}
	if err := m.http.DoJSON(ctx, http.MethodPost, "/chat/completions", m.body(req), &payload); err != nil {
		return adapter.ChatResponse{}, err
	}
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return adapter.ChatResponse{Content: c.Message.Content, Model: payload.Model, Usage: payload.Usage.toUsage()}, nil
		}
	}
	return adapter.ChatResponse{}, domain.NewProviderError(m.id, domain.ErrMalformedResponse, 0, "no choice content")
}

func (m *CompatAdapter) ChatStream(ctx context.Context, req adapter.ChatRequest, emit func(adapter.StreamChunk) error) (adapter.ChatResponse, error) {
	body := m.body(req)
	body.Stream = true
	body.StreamOptions = &struct {
		IncludeUsage bool `json:"include_usage"`
	}{IncludeUsage: true}

	var out adapter.ChatResponse
	var b strings.Builder
	err := m.http.Stream(ctx, "/chat/completions", body, func(ev httpx.Event) error {
		if ev.Data == "[DONE]" {
			return nil
		}
		var chunk struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *compatUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return domain.NewProviderError(m.id, domain.ErrMalformedResponse, 0, "bad stream chunk")
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage != nil {
			out.Usage = chunk.Usage.toUsage()
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return nil
		}
		delta := chunk.Choices[0].Delta.Content
		b.WriteString(delta)
		return emit(adapter.StreamChunk{Delta: delta})
	})
	if err != nil {
		return adapter.ChatResponse{}, err
	}
	out.Content = b.String()
	return out, nil
}
