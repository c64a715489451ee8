package synth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

var _ adapter.SynthesisProvider = (*Veo)(nil)

// veoAPI is the slice of the genai client used for video generation.
type veoAPI interface {
	Generate(ctx context.Context, model, prompt string, cfg *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	Get(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)
	Download(ctx context.Context, v *genai.GeneratedVideo) ([]byte, error)
}

type genaiVideos struct {
	c *genai.Client
}

func (g genaiVideos) Generate(ctx context.Context, model, prompt string, cfg *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return g.c.Models.GenerateVideos(ctx, model, prompt, nil, cfg)
}

func (g genaiVideos) Get(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	return g.c.Operations.GetVideosOperation(ctx, op, nil)
}

func (g genaiVideos) Download(ctx context.Context, v *genai.GeneratedVideo) ([]byte, error) {
	return g.c.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(v), nil)
}

// Veo renders scene video with Google Veo through the Gemini API.
// The operation name is the external handle.
type Veo struct {
	id    string
	api   veoAPI
	model string
}

func NewVeo(ctx context.Context, id, apiKey, model string) (*Veo, error) {
	if model == "" {
		model = "veo-2.0-generate-001"
	}
	v := &Veo{id: id, model: model}
	if apiKey == "" {
		return v, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("veo client: %w", err)
	}
	v.api = genaiVideos{c: c}
	return v, nil
}

func (v *Veo) ID() string      { return v.id }
func (v *Veo) Available() bool { return v.api != nil }

func (v *Veo) Start(ctx context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	cfg := &genai.GenerateVideosConfig{NumberOfVideos: 1, AspectRatio: "16:9"}
	if d := req.Input.DurationSec; d > 0 {
		cfg.DurationSeconds = genai.Ptr(int32(d))
	}
	op, err := v.api.Generate(ctx, modelOr(req.Input.Model, v.model), firstNonEmpty(req.Input.Prompt, req.Input.Script), cfg)
	if err != nil {
		return adapter.Submission{}, v.classify(err)
	}
	if op == nil || op.Name == "" {
		return adapter.Submission{}, domain.NewProviderError(v.id, domain.ErrMalformedResponse, 0, "missing operation name")
	}
	return adapter.Submission{Handle: op.Name}, nil
}

func (v *Veo) Poll(ctx context.Context, handle string) (adapter.PollResult, error) {
	op, err := v.api.Get(ctx, &genai.GenerateVideosOperation{Name: handle})
	if err != nil {
		return adapter.PollResult{}, v.classify(err)
	}
	if !op.Done {
		return adapter.PollResult{Status: adapter.PollRunning}, nil
	}
	if op.Error != nil {
		return adapter.PollResult{Status: adapter.PollFailed, Reason: fmt.Sprint(op.Error["message"])}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		reason := "no video generated"
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			reason = op.Response.RAIMediaFilteredReasons[0]
		}
		return adapter.PollResult{Status: adapter.PollFailed, Reason: reason}, nil
	}
	gv := op.Response.GeneratedVideos[0]
	data := gv.Video.VideoBytes
	if len(data) == 0 {
		if data, err = v.api.Download(ctx, gv); err != nil {
			return adapter.PollResult{}, v.classify(err)
		}
	}
	ct := firstNonEmpty(gv.Video.MIMEType, "video/mp4")
	return adapter.PollResult{Status: adapter.PollSucceeded, Progress: 100, Asset: &adapter.Asset{Data: data, ContentType: ct}}, nil
}

func (v *Veo) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return httpx.ClassifyStatus(v.id, apiErr.Code, []byte(apiErr.Message))
	}
	return httpx.ClassifyTransport(v.id, err)
}

func modelOr(m, def string) string {
	if m != "" {
		return m
	}
	return def
}
