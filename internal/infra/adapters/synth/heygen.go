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

var _ adapter.SynthesisProvider = (*HeyGen)(nil)

// HeyGen trains talking avatars from photos. Training is asynchronous.
type HeyGen struct {
	id      string
	apiKey  string
	quality string
	http    *httpx.Client
}

func NewHeyGen(id, apiKey, base, quality string, timeout time.Duration) *HeyGen {
	if base == "" {
		base = "https://api.heygen.com/v1"
	}
	if quality == "" {
		quality = "high"
	}
	return &HeyGen{
		id:      id,
		apiKey:  apiKey,
		quality: quality,
		http:    httpx.New(id, base, timeout, map[string]string{"X-Api-Key": apiKey}),
	}
}

func (h *HeyGen) ID() string      { return h.id }
func (h *HeyGen) Available() bool { return h.apiKey != "" }

func (h *HeyGen) Start(ctx context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	in := req.Input
	body := map[string]any{
		"name":        firstNonEmpty(in.Name, req.JobID),
		"description": in.Description,
		"photo_urls":  in.PhotoURLs,
		"quality":     firstNonEmpty(in.Quality, h.quality),
	}
	var out struct {
		AvatarID string `json:"avatar_id"`
		Data     struct {
			AvatarID string `json:"avatar_id"`
		} `json:"data"`
	}
	if err := h.http.DoJSON(ctx, http.MethodPost, "/avatar/create", body, &out); err != nil {
		return adapter.Submission{}, err
	}
	handle := firstNonEmpty(out.AvatarID, out.Data.AvatarID)
	if handle == "" {
		return adapter.Submission{}, domain.NewProviderError(h.id, domain.ErrMalformedResponse, 0, "missing avatar_id")
	}
	return adapter.Submission{Handle: handle}, nil
}

func (h *HeyGen) Poll(ctx context.Context, handle string) (adapter.PollResult, error) {
	var out struct {
		Status     string `json:"status"`
		Progress   int    `json:"progress"`
		PreviewURL string `json:"preview_url"`
		VideoURL   string `json:"video_url"`
		Error      string `json:"error"`
	}
	if err := h.http.DoJSON(ctx, http.MethodGet, "/avatar/"+url.PathEscape(handle)+"/status", nil, &out); err != nil {
		return adapter.PollResult{}, err
	}
	res := adapter.PollResult{Status: pollStatus(out.Status), Progress: clampProgress(out.Progress), Reason: out.Error}
	if res.Status == adapter.PollSucceeded {
		if u := firstNonEmpty(out.VideoURL, out.PreviewURL); u != "" {
			res.Asset = &adapter.Asset{URL: u}
		}
	}
	return res, nil
}
