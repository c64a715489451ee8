// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/logging"
)

// DefaultSystemPrompt frames every conversational chat call.
const DefaultSystemPrompt = "You are an AI assistant specialised in content creation for videos, avatars and creative projects. Be helpful, creative and detailed in your answers."

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

type ChatUseCase interface {
	Send(ctx context.Context, userID, conversationID, text string, opts ChatOptions) (*Result, error)
	Stream(ctx context.Context, userID, conversationID, text string, opts ChatOptions, emit func(adapter.StreamChunk) error) (*Result, error)
	EnhancePrompt(ctx context.Context, userID, prompt string, style StyleOptions) (*EnhancedPrompt, error)
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	History(ctx context.Context, userID, conversationID string, limit int) ([]model.Message, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	ListProviders(ctx context.Context, c model.Capability) ([]model.ProviderStatus, error)
}

type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// StyleOptions steer prompt enhancement. Empty fields take the first catalog entry.
type StyleOptions struct {
	AnimationStyle  string `json:"animation_style"`
	WritingTone     string `json:"writing_tone"`
	CreativityLevel string `json:"creativity_level"`
}

type StyleOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type StyleCatalog struct {
	AnimationStyles  []StyleOption `json:"animation_styles"`
	WritingTones     []StyleOption `json:"writing_tones"`
	CreativityLevels []StyleOption `json:"creativity_levels"`
}

// Styles is the fixed catalog offered to clients.
var Styles = StyleCatalog{
	AnimationStyles: []StyleOption{
		{"realistic", "Realistic", "Photorealistic, high fidelity"},
		{"cartoon", "Cartoon", "Colourful and vibrant cartoon"},
		{"anime", "Anime", "Japanese anime"},
		{"sketch", "Sketch", "Hand-drawn sketch"},
		{"oil_painting", "Oil painting", "Classic oil painting"},
		{"watercolor", "Watercolor", "Soft watercolor"},
		{"digital_art", "Digital art", "Modern digital art"},
		{"cyberpunk", "Cyberpunk", "Futuristic cyberpunk"},
	},
	WritingTones: []StyleOption{
		{"professional", "Professional", "Formal and technical"},
		{"casual", "Casual", "Relaxed and friendly"},
		{"enthusiastic", "Enthusiastic", "Energetic and motivating"},
		{"poetic", "Poetic", "Artistic and expressive"},
		{"technical", "Technical", "Precise and detailed"},
		{"narrative", "Narrative", "Storytelling"},
	},
	CreativityLevels: []StyleOption{
		{"conservative", "Conservative", "Safe and traditional"},
		{"moderate", "Moderate", "Balance of creativity and practicality"},
		{"creative", "Creative", "Innovative and unique"},
		{"experimental", "Experimental", "Maximum experimentation"},
	},
}

func (s StyleOptions) normalize() (StyleOptions, error) {
	pick := func(v string, opts []StyleOption, def string, field string) (string, error) {
		if v == "" {
			return def, nil
		}
		for _, o := range opts {
			if o.ID == v {
				return v, nil
			}
		}
		return "", fmt.Errorf("%w: unknown %s %q", domain.ErrInvalidArgument, field, v)
	}
	var err error
	if s.AnimationStyle, err = pick(s.AnimationStyle, Styles.AnimationStyles, "realistic", "animation_style"); err != nil {
		return s, err
	}
	if s.WritingTone, err = pick(s.WritingTone, Styles.WritingTones, "professional", "writing_tone"); err != nil {
		return s, err
	}
	if s.CreativityLevel, err = pick(s.CreativityLevel, Styles.CreativityLevels, "moderate", "creativity_level"); err != nil {
		return s, err
	}
	return s, nil
}

type EnhancedPrompt struct {
	Original   string       `json:"original_prompt"`
	Enhanced   string       `json:"enhanced_prompt"`
	Style      StyleOptions `json:"style_options"`
	ProviderID string       `json:"provider_id"`
}

// chatDispatcher is what the chat use case needs from FallbackDispatcher.
type chatDispatcher interface {
	Dispatcher
	Stream(ctx context.Context, c model.Capability, req DispatchRequest, emit func(adapter.StreamChunk) error) (*Result, error)
	Providers(c model.Capability) []model.ProviderStatus
}

type chatUC struct {
	dispatch chatDispatcher
	convs    ConversationStore
	system   string
	log      *zerolog.Logger
}

func NewChatUseCase(dispatch chatDispatcher, convs ConversationStore, systemPrompt string, logger *zerolog.Logger) *chatUC {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "ChatUseCase").Logger()
	return &chatUC{dispatch: dispatch, convs: convs, system: systemPrompt, log: &l}
}

func (c *chatUC) Send(ctx context.Context, userID, conversationID, text string, opts ChatOptions) (*Result, error) {
	req, err := c.request(userID, conversationID, text, opts)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithConversationID(ctx, conversationID)
	res, err := c.dispatch.Dispatch(ctx, model.CapabilityChat, req)
	if err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("chat dispatch failed")
		return nil, err
	}
	return res, nil
}

func (c *chatUC) Stream(ctx context.Context, userID, conversationID, text string, opts ChatOptions, emit func(adapter.StreamChunk) error) (*Result, error) {
	req, err := c.request(userID, conversationID, text, opts)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithConversationID(ctx, conversationID)
	return c.dispatch.Stream(ctx, model.CapabilityChat, req, emit)
}

func (c *chatUC) request(userID, conversationID, text string, opts ChatOptions) (DispatchRequest, error) {
	if strings.TrimSpace(userID) == "" {
		return DispatchRequest{}, domain.ErrUnauthorized
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return DispatchRequest{}, fmt.Errorf("%w: message is empty", domain.ErrInvalidArgument)
	}
	return DispatchRequest{
		ConversationID: conversationID,
		UserID:         userID,
		Chat: &ChatInput{
			Text:        text,
			System:      c.system,
			Model:       opts.Model,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		},
	}, nil
}

// EnhancePrompt rewrites a short idea into a detailed generation prompt. No conversation is touched.
func (c *chatUC) EnhancePrompt(ctx context.Context, userID, prompt string, style StyleOptions) (*EnhancedPrompt, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is empty", domain.ErrInvalidArgument)
	}
	style, err := style.normalize()
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf(
		"As an expert in prompts for generative AI, improve the following simple prompt.\n\n"+
			"ORIGINAL PROMPT: %q\n\nSETTINGS:\n- Style: %s\n- Tone: %s\n- Creativity: %s\n\n"+
			"Return only the improved prompt.",
		prompt, style.AnimationStyle, style.WritingTone, style.CreativityLevel)

	res, err := c.dispatch.Dispatch(ctx, model.CapabilityChat, DispatchRequest{
		UserID: userID,
		Chat:   &ChatInput{Text: text, MaxTokens: 500, Temperature: 0.7},
	})
	if err != nil {
		return nil, err
	}
	return &EnhancedPrompt{
		Original:   prompt,
		Enhanced:   strings.TrimSpace(res.Chat.Content),
		Style:      style,
		ProviderID: res.ProviderID,
	}, nil
}

func (c *chatUC) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return c.convs.List(ctx, userID)
}

func (c *chatUC) History(ctx context.Context, userID, conversationID string, limit int) ([]model.Message, error) {
	if _, err := c.convs.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return c.convs.History(ctx, conversationID, limit)
}

func (c *chatUC) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := c.convs.Clear(ctx, conversationID, userID); err != nil {
		return err
	}
	logging.With(logging.WithConversationID(ctx, conversationID), c.log).Info().Msg("conversation cleared")
	return nil
}

func (c *chatUC) ListProviders(_ context.Context, capability model.Capability) ([]model.ProviderStatus, error) {
	return c.dispatch.Providers(capability), nil
}
