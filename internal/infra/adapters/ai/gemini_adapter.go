// File: .\internal\infra\adapters\ai\gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

var _ adapter.ChatProvider = (*GeminiAdapter)(nil)

// geminiChats is the slice of genai.Client.Chats the adapter uses.
type geminiChats interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (*genai.Chat, error)
}

type GeminiAdapter struct {
	id           string
	chats        geminiChats
	available    bool
	defaultModel string
	maxOut       int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, id, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	if apiKey == "" {
		return &GeminiAdapter{id: id, defaultModel: defaultModel}, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{id: id, chats: c.Chats, available: true, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) ID() string      { return g.id }
func (g *GeminiAdapter) Available() bool { return g.available }

func (g *GeminiAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatResponse, error) {
	chat, last, err := g.open(ctx, req)
	if err != nil {
		return adapter.ChatResponse{}, err
	}
	resp, err := chat.SendMessage(ctx, genai.Part{Text: last})
	if err != nil {
		return adapter.ChatResponse{}, g.classify(err)
	}
	text := responseText(resp)
	if text == "" {
		return adapter.ChatResponse{}, domain.NewProviderError(g.id, domain.ErrMalformedResponse, 0, "no candidate text")
	}
	return adapter.ChatResponse{Content: text, Model: modelOrDefault(req.Model, g.defaultModel), Usage: usageOf(resp)}, nil
}

func (g *GeminiAdapter) ChatStream(ctx context.Context, req adapter.ChatRequest, emit func(adapter.StreamChunk) error) (adapter.ChatResponse, error) {
	chat, last, err := g.open(ctx, req)
	if err != nil {
		return adapter.ChatResponse{}, err
	}
	var b strings.Builder
	var usage adapter.Usage
	for resp, err := range chat.SendMessageStream(ctx, genai.Part{Text: last}) {
		if err != nil {
			return adapter.ChatResponse{}, g.classify(err)
		}
		if resp.UsageMetadata != nil {
			usage = usageOf(resp)
		}
		delta := responseText(resp)
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if err := emit(adapter.StreamChunk{Delta: delta}); err != nil {
			return adapter.ChatResponse{}, err
		}
	}
	return adapter.ChatResponse{Content: b.String(), Model: modelOrDefault(req.Model, g.defaultModel), Usage: usage}, nil
}

// --- internal ---

func (g *GeminiAdapter) open(ctx context.Context, req adapter.ChatRequest) (*genai.Chat, string, error) {
	if !g.available {
		return nil, "", domain.NewProviderError(g.id, domain.ErrAuthentication, 0, "api key missing")
	}
	if len(req.Messages) == 0 {
		return nil, "", errors.New("gemini: no messages")
	}
	last := req.Messages[len(req.Messages)-1]
	if strings.ToLower(last.Role) != "user" {
		return nil, "", errors.New("gemini: last message must be from user")
	}

	cfg := &genai.GenerateContentConfig{}
	if n := firstPositive(req.MaxTokens, g.maxOut); n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	chat, err := g.chats.Create(ctx, modelOrDefault(req.Model, g.defaultModel), cfg, toGenAIHistory(req.Messages[:len(req.Messages)-1]))
	if err != nil {
		return nil, "", g.classify(err)
	}
	return chat, last.Content, nil
}

func (g *GeminiAdapter) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return httpx.ClassifyStatus(g.id, apiErr.Code, []byte(apiErr.Message))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return httpx.ClassifyStatus(g.id, apiErrPtr.Code, []byte(apiErrPtr.Message))
	}
	return httpx.ClassifyTransport(g.id, err)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func usageOf(resp *genai.GenerateContentResponse) adapter.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return adapter.Usage{}
	}
	return adapter.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
