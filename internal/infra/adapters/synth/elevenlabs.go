package synth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

var _ adapter.SynthesisProvider = (*ElevenLabs)(nil)

// ElevenLabs converts a script to speech within the Start call.
type ElevenLabs struct {
	id      string
	apiKey  string
	voiceID string
	model   string
	http    *httpx.Client
}

func NewElevenLabs(id, apiKey, base, voiceID, model string, timeout time.Duration) *ElevenLabs {
	if base == "" {
		base = "https://api.elevenlabs.io/v1"
	}
	if model == "" {
		model = "eleven_monolingual_v1"
	}
	return &ElevenLabs{
		id:      id,
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   model,
		http:    httpx.New(id, base, timeout, map[string]string{"xi-api-key": apiKey}),
	}
}

func (e *ElevenLabs) ID() string      { return e.id }
func (e *ElevenLabs) Available() bool { return e.apiKey != "" }

func (e *ElevenLabs) Start(ctx context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	text := firstNonEmpty(req.Input.Script, req.Input.Prompt)
	voice := firstNonEmpty(req.Input.VoiceID, e.voiceID)
	if strings.TrimSpace(text) == "" || voice == "" {
		return adapter.Submission{}, domain.NewProviderError(e.id, domain.ErrProviderRejected, 0, "text and voice id are required")
	}
	body := map[string]any{
		"text":     text,
		"model_id": firstNonEmpty(req.Input.Model, e.model),
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.5,
		},
	}
	data, ct, err := e.http.DoBytes(ctx, http.MethodPost, "/text-to-speech/"+url.PathEscape(voice), body, "audio/mpeg")
	if err != nil {
		return adapter.Submission{}, err
	}
	if ct == "" {
		ct = "audio/mpeg"
	}
	return adapter.Submission{Asset: &adapter.Asset{Data: data, ContentType: ct}}, nil
}

// Poll is never called: Start always returns the finished asset.
func (e *ElevenLabs) Poll(context.Context, string) (adapter.PollResult, error) {
	return adapter.PollResult{}, errors.New("elevenlabs: synchronous provider has no handles")
}
