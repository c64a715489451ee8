package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"cineai/internal/domain/ports/adapter"
)

// per-message framing overhead used by OpenAI chat formats
const messageOverhead = 4

// TokenCounter estimates prompt size with tiktoken. Models without a known encoding
// use cl100k_base; if no encoding can be loaded it falls back to len/4.
type TokenCounter struct {
	mu    sync.Mutex
	encs  map[string]*tiktoken.Tiktoken
	count func(model, text string) int
}

func NewTokenCounter() *TokenCounter {
	c := &TokenCounter{encs: make(map[string]*tiktoken.Tiktoken)}
	c.count = c.encode
	return c
}

func (c *TokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encs[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		enc = nil
	}
	c.encs[model] = enc
	return enc
}

// Count returns the estimated token count of text for model.
func (c *TokenCounter) Count(model, text string) int { return c.count(model, text) }

func (c *TokenCounter) encode(model, text string) int {
	if enc := c.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// Trim drops the oldest messages until the rest fits budget. The newest message is always kept.
// A non-positive budget disables trimming.
func (c *TokenCounter) Trim(model string, msgs []adapter.Message, budget int) []adapter.Message {
	if budget <= 0 || len(msgs) == 0 {
		return msgs
	}
	total := 0
	sizes := make([]int, len(msgs))
	for i, m := range msgs {
		sizes[i] = c.Count(model, m.Content) + messageOverhead
		total += sizes[i]
	}
	start := 0
	for total > budget && start < len(msgs)-1 {
		total -= sizes[start]
		start++
	}
	return msgs[start:]
}
