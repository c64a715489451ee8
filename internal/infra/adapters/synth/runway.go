package synth

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

var _ adapter.SynthesisProvider = (*Runway)(nil)

// Runway renders scene video from a text prompt.
type Runway struct {
	id     string
	apiKey string
	model  string
	http   *httpx.Client
}

func NewRunway(id, apiKey, base, model string, timeout time.Duration) *Runway {
	if base == "" {
		base = "https://api.runwayml.com/v1"
	}
	if model == "" {
		model = "gen-3"
	}
	return &Runway{
		id:     id,
		apiKey: apiKey,
		model:  model,
		http:   httpx.New(id, base, timeout, map[string]string{"Authorization": "Bearer " + apiKey}),
	}
}

func (r *Runway) ID() string      { return r.id }
func (r *Runway) Available() bool { return r.apiKey != "" }

func (r *Runway) Start(ctx context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	in := req.Input
	dur := in.DurationSec
	if dur <= 0 {
		dur = 5
	}
	body := map[string]any{
		"prompt":     firstNonEmpty(in.Prompt, in.Script),
		"model":      firstNonEmpty(in.Model, r.model),
		"duration":   dur,
		"resolution": firstNonEmpty(in.Resolution, "1920x1080"),
		"quality":    firstNonEmpty(in.Quality, "high"),
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := r.http.DoJSON(ctx, http.MethodPost, "/video/generations", body, &out); err != nil {
		return adapter.Submission{}, err
	}
	if out.ID == "" {
		return adapter.Submission{}, domain.NewProviderError(r.id, domain.ErrMalformedResponse, 0, "missing generation id")
	}
	return adapter.Submission{Handle: out.ID}, nil
}

func (r *Runway) Poll(ctx context.Context, handle string) (adapter.PollResult, error) {
	var out struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
		VideoURL string  `json:"video_url"`
		Error    string  `json:"error"`
	}
	if err := r.http.DoJSON(ctx, http.MethodGet, "/video/generations/"+url.PathEscape(handle), nil, &out); err != nil {
		return adapter.PollResult{}, err
	}
	progress := out.Progress
	if progress > 0 && progress <= 1 {
		progress *= 100
	}
	res := adapter.PollResult{Status: pollStatus(out.Status), Progress: clampProgress(int(progress)), Reason: out.Error}
	if res.Status == adapter.PollSucceeded && out.VideoURL != "" {
		res.Asset = &adapter.Asset{URL: out.VideoURL, ContentType: "video/mp4"}
	}
	return res, nil
}
