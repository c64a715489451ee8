//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cineai/internal/domain/model"
	"cineai/internal/infra/adapters/ai"
	"cineai/internal/infra/adapters/synth"
	"cineai/internal/infra/api"
	"cineai/internal/infra/db/memory"
	"cineai/internal/infra/storage"
	"cineai/internal/usecase"
)

const secret = "test-secret-0123456789"

// inlineRunner runs background tasks on the request goroutine so responses are deterministic.
type inlineRunner struct{}

func (inlineRunner) Submit(ctx context.Context, task func(ctx context.Context) error) error {
	_ = task(context.WithoutCancel(ctx))
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type testServer struct {
	h    http.Handler
	auth *api.TokenAuth
}

func newTestServer(t *testing.T, limiter api.Limiter, health func(context.Context) error) *testServer {
	t.Helper()
	nop := zerolog.Nop()

	reg := usecase.NewProviderRegistry()
	reg.RegisterChat(ai.NewEchoAdapter("echo", 0), true)
	reg.RegisterSynthesis(synth.NewSimulated("sim", 50), true)
	reg.RegisterSynthesis(synth.NewComposer("composer"), true)
	reg.SetOrder(model.CapabilityChat, []string{"echo"})
	for _, c := range []model.Capability{model.CapabilityAvatar, model.CapabilityVoice, model.CapabilityVideo} {
		reg.SetOrder(c, []string{"sim"})
	}
	reg.SetOrder(model.CapabilityAssembly, []string{"composer"})

	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	convs := usecase.NewConversationStore(memory.NewConversationRepo(), nil, nil, &nop)
	d := usecase.NewFallbackDispatcher(reg, convs, nil, usecase.DispatcherConfig{HistoryLimit: 10}, &nop)
	tracker := usecase.NewJobTracker(memory.NewJobRepo(), d, files, nil, &nop)
	projects := usecase.NewProjectScheduler(tracker, inlineRunner{}, &nop)

	auth, err := api.NewTokenAuth(secret, "cineai-test", time.Hour)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	srv := api.NewServer(
		usecase.NewChatUseCase(d, convs, "", &nop),
		usecase.NewGenerationUseCase(tracker, projects, inlineRunner{}, &nop),
		auth, limiter,
		api.Options{RatePerMinute: 10, Health: health},
		&nop,
	)
	return &testServer{h: srv.Router(), auth: auth}
}

func (ts *testServer) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := ts.auth.Issue(user)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	if rr := ts.do(t, "", http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}

	down := newTestServer(t, nil, func(context.Context) error { return errors.New("db down") })
	if rr := down.do(t, "", http.MethodGet, "/healthz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	rr := ts.do(t, "", http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rr.Code)
	}
	if e := decodeBody[errResp](t, rr); e.Code != "unauthorized" {
		t.Fatalf("unexpected code %q", e.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	bad := httptest.NewRecorder()
	ts.h.ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 for garbage token, got %d", bad.Code)
	}
	if bad.Header().Get("X-Request-ID") == "" {
		t.Fatal("trace id header missing")
	}
}

func TestChat_RoundTripAndHistory(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	rr := ts.do(t, "u1", http.MethodPost, "/api/v1/chat", map[string]any{"conversation_id": "c1", "message": "hi there"})
	if rr.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", rr.Code, rr.Body.String())
	}
	got := decodeBody[struct {
		ConversationID string `json:"conversation_id"`
		ProviderID     string `json:"provider_id"`
		Content        string `json:"content"`
	}](t, rr)
	if got.ConversationID != "c1" || got.ProviderID != "echo" || got.Content != "echo: hi there" {
		t.Fatalf("unexpected reply: %+v", got)
	}

	hist := ts.do(t, "u1", http.MethodGet, "/api/v1/conversations/c1/messages?limit=10", nil)
	if hist.Code != http.StatusOK {
		t.Fatalf("history: %d %s", hist.Code, hist.Body.String())
	}
	msgs := decodeBody[struct {
		Messages []model.Message `json:"messages"`
	}](t, hist).Messages
	if len(msgs) != 2 || msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant || msgs[1].ProviderID != "echo" {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	if rr := ts.do(t, "u2", http.MethodGet, "/api/v1/conversations/c1/messages", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("other user: want 403, got %d", rr.Code)
	}
	for _, q := range []string{"limit=abc", "limit=0", "limit=100000"} {
		if rr := ts.do(t, "u1", http.MethodGet, "/api/v1/conversations/c1/messages?"+q, nil); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", q, rr.Code)
		}
	}

	list := ts.do(t, "u1", http.MethodGet, "/api/v1/conversations", nil)
	if convs := decodeBody[struct {
		Conversations []model.Conversation `json:"conversations"`
	}](t, list).Conversations; len(convs) != 1 || convs[0].ID != "c1" {
		t.Fatalf("unexpected conversations: %+v", convs)
	}

	if rr := ts.do(t, "u1", http.MethodDelete, "/api/v1/conversations/c1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: want 204, got %d", rr.Code)
	}
	if rr := ts.do(t, "u1", http.MethodGet, "/api/v1/conversations/c1/messages", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("after delete: want 404, got %d", rr.Code)
	}
}

func TestChat_MintsConversationWhenMissing(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	rr := ts.do(t, "u1", http.MethodPost, "/api/v1/chat", map[string]any{"message": "hello"})
	if rr.Code != http.StatusOK {
		t.Fatalf("chat: %d", rr.Code)
	}
	if id := decodeBody[map[string]any](t, rr)["conversation_id"]; id == "" || id == nil {
		t.Fatal("conversation id not returned")
	}
}

func TestChat_SchemaRejectsBadBodies(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	for name, body := range map[string]any{
		"empty message": map[string]any{"message": ""},
		"temperature":   map[string]any{"message": "x", "temperature": 5},
		"malformed":     "{not json",
	} {
		rr := ts.do(t, "u1", http.MethodPost, "/api/v1/chat", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", name, rr.Code)
		}
		if e := decodeBody[errResp](t, rr); e.Code != "invalid_argument" {
			t.Fatalf("%s: unexpected code %q", name, e.Code)
		}
	}
}

func TestChatStream_EmitsChunksThenDone(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	rr := ts.do(t, "u1", http.MethodPost, "/api/v1/chat/stream", map[string]any{"conversation_id": "s1", "message": "stream me"})
	if rr.Code != http.StatusOK {
		t.Fatalf("stream: %d %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	body := rr.Body.String()
	if strings.Count(body, "event: chunk") < 2 || !strings.Contains(body, "event: done") {
		t.Fatalf("unexpected stream body:\n%s", body)
	}
	if strings.Index(body, "event: done") < strings.LastIndex(body, "event: chunk") {
		t.Fatal("done event before last chunk")
	}
}

func TestEnhanceAndStyles(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	rr := ts.do(t, "u1", http.MethodPost, "/api/v1/prompts/enhance", map[string]any{"prompt": "a cat", "animation_style": "anime"})
	if rr.Code != http.StatusOK {
		t.Fatalf("enhance: %d %s", rr.Code, rr.Body.String())
	}
	out := decodeBody[usecase.EnhancedPrompt](t, rr)
	if out.Original != "a cat" || out.Style.AnimationStyle != "anime" || out.ProviderID != "echo" || out.Enhanced == "" {
		t.Fatalf("unexpected enhancement: %+v", out)
	}

	bad := ts.do(t, "u1", http.MethodPost, "/api/v1/prompts/enhance", map[string]any{"prompt": "a cat", "writing_tone": "sarcastic"})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("unknown tone: want 400, got %d", bad.Code)
	}

	styles := decodeBody[usecase.StyleCatalog](t, ts.do(t, "u1", http.MethodGet, "/api/v1/prompts/styles", nil))
	if len(styles.AnimationStyles) == 0 || len(styles.WritingTones) == 0 {
		t.Fatalf("empty style catalog: %+v", styles)
	}
}

func TestProjectSubmitStatusAndConflict(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	body := map[string]any{
		"scenes": []map[string]any{
			{"scene_id": "s1", "prompt": "sunrise over the sea"},
			{"scene_id": "s2", "script": "and then night fell"},
		},
		"output": map[string]any{"resolution": "1080p"},
	}
	rr := ts.do(t, "u1", http.MethodPost, "/api/v1/projects/p1/submit", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	accepted := decodeBody[struct {
		AssemblyJobID string `json:"assembly_job_id"`
	}](t, rr)

	st := decodeBody[model.JobStatus](t, ts.do(t, "u1", http.MethodGet, "/api/v1/jobs/"+accepted.AssemblyJobID, nil))
	if st.State != model.JobPending || st.Kind != model.JobKindAssembly {
		t.Fatalf("assembly should wait for scenes: %+v", st)
	}

	scenes := decodeBody[struct {
		Jobs []model.JobStatus `json:"jobs"`
	}](t, ts.do(t, "u1", http.MethodGet, "/api/v1/jobs?owner_id=s1", nil)).Jobs
	if len(scenes) != 1 || scenes[0].State != model.JobDispatched || scenes[0].ProviderID != "sim" {
		t.Fatalf("unexpected scene jobs: %+v", scenes)
	}

	if rr := ts.do(t, "u1", http.MethodPost, "/api/v1/projects/p1/submit", body); rr.Code != http.StatusConflict {
		t.Fatalf("second submit: want 409, got %d", rr.Code)
	}
	if rr := ts.do(t, "u2", http.MethodGet, "/api/v1/jobs/"+accepted.AssemblyJobID, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign job: want 403, got %d", rr.Code)
	}
	if rr := ts.do(t, "u1", http.MethodGet, "/api/v1/jobs/missing", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing job: want 404, got %d", rr.Code)
	}
}

func TestProjectSubmit_SchemaErrors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	cases := map[string]any{
		"no scenes":        map[string]any{"scenes": []any{}},
		"no prompt":        map[string]any{"scenes": []map[string]any{{"scene_id": "s1"}}},
		"bad duration":     map[string]any{"scenes": []map[string]any{{"scene_id": "s1", "prompt": "x", "duration_sec": 0}}},
		"non-string meta":  map[string]any{"scenes": []map[string]any{{"scene_id": "s1", "prompt": "x"}}, "output": map[string]any{"metadata": map[string]any{"k": 1}}},
		"duplicate scenes": map[string]any{"scenes": []map[string]any{{"scene_id": "s1", "prompt": "x"}, {"scene_id": "s1", "prompt": "y"}}},
	}
	for name, body := range cases {
		if rr := ts.do(t, "u1", http.MethodPost, "/api/v1/projects/p1/submit", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d %s", name, rr.Code, rr.Body.String())
		}
	}
}

func TestAvatarAndVoiceJobs(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	rr := ts.do(t, "u1", http.MethodPost, "/api/v1/avatars/a1/jobs", map[string]any{
		"name": "Ana", "photo_urls": []string{"https://img/1.jpg"}, "quality": "high",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("avatar: %d %s", rr.Code, rr.Body.String())
	}
	if st := decodeBody[model.JobStatus](t, rr); st.Kind != model.JobKindAvatar || st.OwnerID != "a1" {
		t.Fatalf("unexpected avatar job: %+v", st)
	}
	if rr := ts.do(t, "u1", http.MethodPost, "/api/v1/avatars/a1/jobs", map[string]any{"name": "Ana"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("avatar without photos: want 400, got %d", rr.Code)
	}

	voice := ts.do(t, "u1", http.MethodPost, "/api/v1/voices/v1/jobs", map[string]any{"script": "hello world"})
	if voice.Code != http.StatusAccepted {
		t.Fatalf("voice: %d %s", voice.Code, voice.Body.String())
	}
	if st := decodeBody[model.JobStatus](t, voice); st.Kind != model.JobKindVoice {
		t.Fatalf("unexpected voice job: %+v", st)
	}
}

func TestProviders(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)
	rr := ts.do(t, "u1", http.MethodGet, "/api/v1/providers/chat", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("providers: %d", rr.Code)
	}
	list := decodeBody[struct {
		Providers []model.ProviderStatus `json:"providers"`
	}](t, rr).Providers
	if len(list) != 1 || list[0].ProviderID != "echo" || !list[0].Available || !list[0].Healthy {
		t.Fatalf("unexpected providers: %+v", list)
	}
	if rr := ts.do(t, "u1", http.MethodGet, "/api/v1/providers/teleport", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown capability: want 400, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, denyLimiter{}, nil)
	rr := ts.do(t, "u1", http.MethodGet, "/api/v1/conversations", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}
	if e := decodeBody[errResp](t, rr); e.Code != "rate_limited" {
		t.Fatalf("unexpected code %q", e.Code)
	}
}
