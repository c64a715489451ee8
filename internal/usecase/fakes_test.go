// File: internal/usecase/fakes_test.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cineai/internal/domain/ports/adapter"
)

// ---- Clock ----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ---- Chat provider ----

type chatStep struct {
	chunks []string
	err    error
	reply  string
}

type fakeChat struct {
	id        string
	available bool

	mu    sync.Mutex
	calls int
	steps []chatStep // consumed one per call; the last one repeats
	reqs  []adapter.ChatRequest
}

func newFakeChat(id string, steps ...chatStep) *fakeChat {
	return &fakeChat{id: id, available: true, steps: steps}
}

func (f *fakeChat) ID() string      { return f.id }
func (f *fakeChat) Available() bool { return f.available }

func (f *fakeChat) next(req adapter.ChatRequest) chatStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	i := f.calls
	f.calls++
	if len(f.steps) == 0 {
		return chatStep{reply: "ok from " + f.id}
	}
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i]
}

func (f *fakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChat) Chat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatResponse, error) {
	st := f.next(req)
	if st.err != nil {
		return adapter.ChatResponse{}, st.err
	}
	return adapter.ChatResponse{Content: st.reply, Model: "fake"}, nil
}

func (f *fakeChat) ChatStream(ctx context.Context, req adapter.ChatRequest, emit func(adapter.StreamChunk) error) (adapter.ChatResponse, error) {
	st := f.next(req)
	var full string
	for _, c := range st.chunks {
		if err := emit(adapter.StreamChunk{Delta: c}); err != nil {
			return adapter.ChatResponse{}, err
		}
		full += c
	}
	if st.err != nil {
		return adapter.ChatResponse{}, st.err
	}
	if full == "" {
		full = st.reply
		if full != "" {
			if err := emit(adapter.StreamChunk{Delta: full}); err != nil {
				return adapter.ChatResponse{}, err
			}
		}
	}
	return adapter.ChatResponse{Content: full, Model: "fake"}, nil
}

// blockingChat waits for the caller to give up.
type blockingChat struct{ *fakeChat }

func (b *blockingChat) Chat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatResponse, error) {
	b.next(req)
	<-ctx.Done()
	return adapter.ChatResponse{}, ctx.Err()
}

// ---- Synthesis provider ----

type fakeSynth struct {
	id        string
	available bool
	start     func(req adapter.SynthesisRequest) (adapter.Submission, error)
	poll      func(handle string) (adapter.PollResult, error)

	mu     sync.Mutex
	starts []adapter.SynthesisRequest
	polls  []string
}

func (f *fakeSynth) ID() string      { return f.id }
func (f *fakeSynth) Available() bool { return f.available }

func (f *fakeSynth) Start(ctx context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	f.mu.Lock()
	f.starts = append(f.starts, req)
	n := len(f.starts)
	f.mu.Unlock()
	if f.start != nil {
		return f.start(req)
	}
	return adapter.Submission{Handle: fmt.Sprintf("%s-h%d", f.id, n)}, nil
}

func (f *fakeSynth) Poll(ctx context.Context, handle string) (adapter.PollResult, error) {
	f.mu.Lock()
	f.polls = append(f.polls, handle)
	f.mu.Unlock()
	if f.poll != nil {
		return f.poll(handle)
	}
	return adapter.PollResult{Status: adapter.PollRunning}, nil
}

func (f *fakeSynth) Starts() []adapter.SynthesisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapter.SynthesisRequest(nil), f.starts...)
}

// ---- Storage ----

type memFiles struct {
	mu     sync.Mutex
	stored map[string][]byte
	calls  int
}

func newMemFiles() *memFiles { return &memFiles{stored: make(map[string][]byte)} }

func (m *memFiles) Store(_ context.Context, data []byte, category string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	ref := fmt.Sprintf("%s/asset-%d", category, m.calls)
	m.stored[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (m *memFiles) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mapFetcher map[string][]byte

func (f mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	b, ok := f[url]
	if !ok {
		return nil, fmt.Errorf("404 %s", url)
	}
	return b, nil
}

// ---- Runner ----

// refusingRunner rejects every task, like a stopped pool.
type refusingRunner struct{}

func (refusingRunner) Submit(context.Context, func(ctx context.Context) error) error {
	return errors.New("worker pool stopped")
}

// inlineRunner runs tasks on the caller's goroutine.
type inlineRunner struct{}

func (inlineRunner) Submit(ctx context.Context, task func(ctx context.Context) error) error {
	_ = task(context.WithoutCancel(ctx))
	return nil
}
