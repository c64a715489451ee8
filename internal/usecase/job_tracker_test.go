//go:build !integration

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/db/memory"
)

type trackerFixture struct {
	tracker *JobTracker
	repo    *memory.JobRepo
	files   *memFiles
	synth   *fakeSynth

	mu     sync.Mutex
	events []model.JobTransition
}

func newTrackerFixture(t *testing.T, synth *fakeSynth, fetch mapFetcher) *trackerFixture {
	t.Helper()
	reg := NewProviderRegistry()
	reg.RegisterSynthesis(synth, true)
	for _, c := range []model.Capability{model.CapabilityAvatar, model.CapabilityVoice, model.CapabilityVideo, model.CapabilityAssembly} {
		reg.SetOrder(c, []string{synth.id})
	}
	d := NewFallbackDispatcher(reg, nil, nil, DispatcherConfig{}, nil)
	f := &trackerFixture{repo: memory.NewJobRepo(), files: newMemFiles(), synth: synth}
	var fetcher adapter.AssetFetcher
	if fetch != nil {
		fetcher = fetch
	}
	f.tracker = NewJobTracker(f.repo, d, f.files, fetcher, nil)
	f.tracker.Subscribe(func(_ context.Context, ev model.JobTransition) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	return f
}

func (f *trackerFixture) Events() []model.JobTransition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.JobTransition(nil), f.events...)
}

func TestJobTracker_AsyncDispatchRecordsHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTrackerFixture(t, &fakeSynth{id: "heygen", available: true}, nil)

	job, err := f.tracker.Create(ctx, model.JobKindAvatar, "avatar-1", "u1", model.GenerationRequest{Name: "Ana"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.State != model.JobPending {
		t.Fatalf("initial state = %s", job.State)
	}
	job, err = f.tracker.Dispatch(ctx, job.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if job.State != model.JobDispatched || job.ProviderID != "heygen" || job.ExternalHandle == "" || job.Attempts != 1 || job.DispatchedAt == nil {
		t.Fatalf("unexpected job: %+v", job)
	}
	// a second dispatch is a no-op
	again, err := f.tracker.Dispatch(ctx, job.ID)
	if err != nil || again.Attempts != 1 || len(f.synth.Starts()) != 1 {
		t.Fatalf("redispatch was not a no-op: %+v %v", again, err)
	}
	if ev := f.Events(); len(ev) != 1 || ev[0].From != model.JobPending || ev[0].To != model.JobDispatched {
		t.Fatalf("events = %+v", ev)
	}
}

func TestJobTracker_SyncProviderCompletesDuringDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	synth := &fakeSynth{id: "elevenlabs", available: true, start: func(adapter.SynthesisRequest) (adapter.Submission, error) {
		return adapter.Submission{Asset: &adapter.Asset{Data: []byte("mp3"), ContentType: "audio/mpeg"}}, nil
	}}
	f := newTrackerFixture(t, synth, nil)

	job, _ := f.tracker.Create(ctx, model.JobKindVoice, "voice-1", "u1", model.GenerationRequest{Script: "hello"})
	job, err := f.tracker.Dispatch(ctx, job.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if job.State != model.JobCompleted || job.AssetRef != "voices/asset-1" || job.Progress != 100 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if ev := f.Events(); len(ev) != 1 || ev[0].From != model.JobPending || ev[0].To != model.JobCompleted {
		t.Fatalf("events = %+v", ev)
	}
}

func TestJobTracker_RepeatedSuccessStoresAssetOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTrackerFixture(t, &fakeSynth{id: "runway", available: true}, mapFetcher{"https://cdn/x.mp4": []byte("video")})

	job, _ := f.tracker.Create(ctx, model.JobKindScene, "scene-1", "u1", model.GenerationRequest{Prompt: "sunset"})
	_, _ = f.tracker.Dispatch(ctx, job.ID)

	done := adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{URL: "https://cdn/x.mp4"}}
	first, err := f.tracker.ApplyPoll(ctx, job.ID, done)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := f.tracker.ApplyPoll(ctx, job.ID, done)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if first.State != model.JobCompleted || first.AssetRef != "scenes/asset-1" {
		t.Fatalf("first = %+v", first)
	}
	if second.AssetRef != first.AssetRef || !second.UpdatedAt.Equal(first.UpdatedAt) || *second.FinishedAt != *first.FinishedAt {
		t.Fatalf("second apply changed the job: %+v vs %+v", second, first)
	}
	if f.files.Calls() != 1 {
		t.Fatalf("asset stored %d times", f.files.Calls())
	}
	if n := len(f.Events()); n != 2 {
		t.Fatalf("events = %d, want dispatched + completed", n)
	}
}

func TestJobTracker_ProgressUpdatesEmitNoEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTrackerFixture(t, &fakeSynth{id: "runway", available: true}, nil)
	job, _ := f.tracker.Create(ctx, model.JobKindScene, "scene-1", "u1", model.GenerationRequest{Prompt: "p"})
	_, _ = f.tracker.Dispatch(ctx, job.ID)

	got, err := f.tracker.ApplyPoll(ctx, job.ID, adapter.PollResult{Status: adapter.PollRunning, Progress: 40})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.State != model.JobDispatched || got.Progress != 40 {
		t.Fatalf("job = %+v", got)
	}
	if n := len(f.Events()); n != 1 {
		t.Fatalf("running poll emitted an event: %d", n)
	}
}

func TestJobTracker_FailuresAreRecordedAndTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	synth := &fakeSynth{id: "heygen", available: true, start: func(adapter.SynthesisRequest) (adapter.Submission, error) {
		return adapter.Submission{}, domain.NewProviderError("heygen", domain.ErrAuthentication, 401, "bad key")
	}}
	f := newTrackerFixture(t, synth, nil)

	job, _ := f.tracker.Create(ctx, model.JobKindAvatar, "avatar-1", "u1", model.GenerationRequest{Name: "x"})
	job, err := f.tracker.Dispatch(ctx, job.ID)
	if err != nil {
		t.Fatalf("dispatch returned error instead of recording it: %v", err)
	}
	if job.State != model.JobFailed || job.ErrorCode != "all_providers_exhausted" || job.LastError == "" {
		t.Fatalf("job = %+v", job)
	}

	again, err := f.tracker.Fail(ctx, job.ID, errors.New("late"))
	if err != nil {
		t.Fatalf("fail on terminal: %v", err)
	}
	if again.LastError != job.LastError {
		t.Fatalf("terminal job was overwritten: %q", again.LastError)
	}
	if _, err := f.tracker.ApplyPoll(ctx, job.ID, adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{Data: []byte("x")}}); err != nil {
		t.Fatalf("poll on terminal: %v", err)
	}
	if got, _ := f.tracker.Get(ctx, job.ID); got.State != model.JobFailed {
		t.Fatalf("terminal state re-entered: %s", got.State)
	}
}

func TestJobTracker_PollFailureAndMissingAsset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTrackerFixture(t, &fakeSynth{id: "veo", available: true}, nil)

	a, _ := f.tracker.Create(ctx, model.JobKindScene, "s1", "u1", model.GenerationRequest{Prompt: "p"})
	b, _ := f.tracker.Create(ctx, model.JobKindScene, "s2", "u1", model.GenerationRequest{Prompt: "p"})
	_, _ = f.tracker.Dispatch(ctx, a.ID)
	_, _ = f.tracker.Dispatch(ctx, b.ID)

	ja, _ := f.tracker.ApplyPoll(ctx, a.ID, adapter.PollResult{Status: adapter.PollFailed, Reason: "content policy"})
	if ja.State != model.JobFailed || ja.ErrorCode != "provider_failure" {
		t.Fatalf("a = %+v", ja)
	}
	jb, _ := f.tracker.ApplyPoll(ctx, b.ID, adapter.PollResult{Status: adapter.PollSucceeded})
	if jb.State != model.JobFailed || jb.ErrorCode != "malformed_response" {
		t.Fatalf("b = %+v", jb)
	}
	st, _ := f.tracker.Status(ctx, a.ID)
	if st.State != model.JobFailed || st.Error == "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestJobTracker_SetInputOnlyWhilePending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTrackerFixture(t, &fakeSynth{id: "composer", available: true}, nil)
	job, _ := f.tracker.Create(ctx, model.JobKindAssembly, "p1", "u1", model.GenerationRequest{})

	if _, err := f.tracker.SetInput(ctx, job.ID, model.GenerationRequest{Assets: []string{"a", "b"}}); err != nil {
		t.Fatalf("set input: %v", err)
	}
	_, _ = f.tracker.Dispatch(ctx, job.ID)
	if got := f.synth.Starts(); len(got) != 1 || len(got[0].Input.Assets) != 2 {
		t.Fatalf("provider saw %+v", got)
	}
	if _, err := f.tracker.SetInput(ctx, job.ID, model.GenerationRequest{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestJobTracker_ListAndDeleteForOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTrackerFixture(t, &fakeSynth{id: "heygen", available: true}, nil)

	for _, owner := range []string{"avatar-1", "avatar-1", "avatar-2"} {
		if _, err := f.tracker.Create(ctx, model.JobKindAvatar, owner, "u1", model.GenerationRequest{Name: "Ana"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	jobs, err := f.tracker.ListByOwner(ctx, "avatar-1")
	if err != nil || len(jobs) != 2 {
		t.Fatalf("list: %d %v", len(jobs), err)
	}
	n, err := f.tracker.DeleteForOwner(ctx, "avatar-1")
	if err != nil || n != 2 {
		t.Fatalf("delete: %d %v", n, err)
	}
	if jobs, _ := f.tracker.ListByOwner(ctx, "avatar-1"); len(jobs) != 0 {
		t.Fatalf("jobs survived delete: %d", len(jobs))
	}
	if jobs, _ := f.tracker.ListByOwner(ctx, "avatar-2"); len(jobs) != 1 {
		t.Fatalf("other owner affected: %d", len(jobs))
	}
	if _, err := f.tracker.DeleteForOwner(ctx, " "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestJobTracker_FailedDownloadKeepsJobDispatched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fetch := mapFetcher{}
	f := newTrackerFixture(t, &fakeSynth{id: "runway", available: true}, fetch)
	job, _ := f.tracker.Create(ctx, model.JobKindScene, "scene-1", "u1", model.GenerationRequest{Prompt: "p"})
	_, _ = f.tracker.Dispatch(ctx, job.ID)

	done := adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{URL: "https://cdn/late.mp4"}}
	if _, err := f.tracker.ApplyPoll(ctx, job.ID, done); err == nil {
		t.Fatal("expected the download error to be returned")
	}
	got, _ := f.tracker.Get(ctx, job.ID)
	if got.State != model.JobDispatched || got.LastError != "" {
		t.Fatalf("download error changed the job: %+v", got)
	}

	fetch["https://cdn/late.mp4"] = []byte("video")
	got, err := f.tracker.ApplyPoll(ctx, job.ID, done)
	if err != nil {
		t.Fatalf("retry apply: %v", err)
	}
	if got.State != model.JobCompleted || got.AssetRef != "scenes/asset-1" {
		t.Fatalf("job = %+v", got)
	}
	if n := len(f.Events()); n != 2 {
		t.Fatalf("events = %d, want dispatched + completed", n)
	}
}

func TestJobTracker_ConcurrentMutationsResolveOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTrackerFixture(t, &fakeSynth{id: "runway", available: true}, mapFetcher{"https://cdn/x.mp4": []byte("video")})
	job, _ := f.tracker.Create(ctx, model.JobKindScene, "scene-1", "u1", model.GenerationRequest{Prompt: "p"})

	done := adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{URL: "https://cdn/x.mp4"}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = f.tracker.Dispatch(ctx, job.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.tracker.ApplyPoll(ctx, job.ID, done)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.tracker.Fail(ctx, job.ID, errors.New("cancelled by owner"))
		}()
	}
	wg.Wait()

	got, _ := f.tracker.Get(ctx, job.ID)
	if !got.State.Terminal() {
		t.Fatalf("job not resolved: %s", got.State)
	}
	terminal := 0
	for _, ev := range f.Events() {
		if ev.To.Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("terminal events = %d", terminal)
	}
	wantStores := 0
	if got.State == model.JobCompleted {
		wantStores = 1
	}
	if f.files.Calls() != wantStores {
		t.Fatalf("asset stored %d times for a %s job", f.files.Calls(), got.State)
	}
	if len(f.synth.Starts()) > 1 {
		t.Fatalf("provider started %d times", len(f.synth.Starts()))
	}
}
