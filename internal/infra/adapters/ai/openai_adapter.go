package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ChatProvider = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.ChatProvider with the official Chat Completions SDK.
type OpenAIAdapter struct {
	id     string
	apiKey string
	model  string
	maxOut int
	client openai.Client
}

func NewOpenAIAdapter(id, apiKey, model, baseURL string, maxOut int) *OpenAIAdapter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		id:     id,
		apiKey: apiKey,
		model:  model,
		maxOut: maxOut,
		client: openai.NewClient(opts...),
	}
}

func (o *OpenAIAdapter) ID() string      { return o.id }
func (o *OpenAIAdapter) Available() bool { return o.apiKey != "" }

func (o *OpenAIAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatResponse, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return adapter.ChatResponse{}, o.classify(err)
	}
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return adapter.ChatResponse{
				Content: c.Message.Content,
				Model:   resp.Model,
				Usage: adapter.Usage{
					PromptTokens:     int(resp.Usage.PromptTokens),
					CompletionTokens: int(resp.Usage.CompletionTokens),
					TotalTokens:      int(resp.Usage.TotalTokens),
				},
			}, nil
		}
	}
	return adapter.ChatResponse{}, domain.NewProviderError(o.id, domain.ErrMalformedResponse, 0, "no choice content")
}

func (o *OpenAIAdapter) ChatStream(ctx context.Context, req adapter.ChatRequest, emit func(adapter.StreamChunk) error) (adapter.ChatResponse, error) {
	params := o.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		b.WriteString(delta)
		if err := emit(adapter.StreamChunk{Delta: delta}); err != nil {
			return adapter.ChatResponse{}, err
		}
	}
	if err := stream.Err(); err != nil {
		return adapter.ChatResponse{}, o.classify(err)
	}
	return adapter.ChatResponse{
		Content: b.String(),
		Model:   acc.Model,
		Usage: adapter.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
	}, nil
}

func (o *OpenAIAdapter) params(req adapter.ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelOrDefault(req.Model, o.model)),
		Messages: msgs,
	}
	if n := firstPositive(req.MaxTokens, o.maxOut); n > 0 {
		p.MaxTokens = openai.Int(int64(n))
	}
	if req.Temperature > 0 {
		p.Temperature = openai.Float(req.Temperature)
	}
	return p
}

func (o *OpenAIAdapter) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return httpx.ClassifyStatus(o.id, apiErr.StatusCode, []byte(apiErr.Message))
	}
	return httpx.ClassifyTransport(o.id, err)
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
