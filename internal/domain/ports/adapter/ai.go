package adapter

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Usage for a single chat call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatRequest is the provider-agnostic input for one chat completion.
// Messages are ordered oldest first and end with the user turn.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// StreamChunk is one incremental piece of assistant output.
type StreamChunk struct {
	Delta string `json:"delta"`
}

// Provider is the part every provider client shares.
type Provider interface {
	ID() string
	// Available reports whether credentials are present.
	Available() bool
}

// ChatProvider is the synchronous capability port.
type ChatProvider interface {
	Provider
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream calls emit for every chunk in order. An error returned by emit aborts the stream.
	ChatStream(ctx context.Context, req ChatRequest, emit func(StreamChunk) error) (ChatResponse, error)
}
