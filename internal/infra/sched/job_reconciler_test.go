//go:build !integration

package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/db/memory"
	"cineai/internal/usecase"
)

type scriptedProvider struct {
	mu    sync.Mutex
	res   adapter.PollResult
	err   error
	polls []string
}

func (p *scriptedProvider) ID() string      { return "runway" }
func (p *scriptedProvider) Available() bool { return true }
func (p *scriptedProvider) Start(context.Context, adapter.SynthesisRequest) (adapter.Submission, error) {
	return adapter.Submission{}, errors.New("not used")
}
func (p *scriptedProvider) Poll(_ context.Context, handle string) (adapter.PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls = append(p.polls, handle)
	return p.res, p.err
}

type lookup map[string]adapter.SynthesisProvider

func (l lookup) Synthesis(id string) (adapter.SynthesisProvider, bool) {
	p, ok := l[id]
	return p, ok
}

type fixture struct {
	repo     *memory.JobRepo
	tracker  *usecase.JobTracker
	provider *scriptedProvider
	rec      *JobReconciler
	now      time.Time
}

func newFixture(t *testing.T, leader Leader) *fixture {
	t.Helper()
	nop := zerolog.Nop()
	f := &fixture{
		repo:     memory.NewJobRepo(),
		provider: &scriptedProvider{res: adapter.PollResult{Status: adapter.PollRunning, Progress: 10}},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.tracker = usecase.NewJobTracker(f.repo, nil, nil, nil, &nop).WithClock(clock)
	f.rec = NewJobReconciler(f.tracker, lookup{"runway": f.provider}, leader, ReconcilerConfig{MaxUnresolved: 30 * time.Minute}, &nop).
		WithClock(clock)
	return f
}

// seed stores a job that was dispatched `ago` before the fixture clock.
func (f *fixture) seed(t *testing.T, id, provider string, state model.JobState, ago time.Duration) {
	t.Helper()
	at := f.now.Add(-ago)
	j, err := model.NewJob(id, model.JobKindScene, "scene-"+id, "u1", model.GenerationRequest{Prompt: "p"}, at)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	j.State = state
	if state == model.JobDispatched {
		j.ProviderID = provider
		j.ExternalHandle = "h-" + id
		j.DispatchedAt = &at
	}
	if err := f.repo.Create(context.Background(), nil, j); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// withStorage rebuilds the tracker so completed jobs download and store their assets.
func (f *fixture) withStorage(files adapter.FileStore, fetcher adapter.AssetFetcher) {
	nop := zerolog.Nop()
	clock := func() time.Time { return f.now }
	f.tracker = usecase.NewJobTracker(f.repo, nil, files, fetcher, &nop).WithClock(clock)
	f.rec = NewJobReconciler(f.tracker, lookup{"runway": f.provider}, nil, ReconcilerConfig{MaxUnresolved: 30 * time.Minute}, &nop).
		WithClock(clock)
}

type flakyFetcher struct {
	mu   sync.Mutex
	down bool
}

func (f *flakyFetcher) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("fetch %s: connection reset", url)
	}
	return []byte("video"), nil
}

type countingStore struct {
	mu sync.Mutex
	n  int
}

func (s *countingStore) Store(_ context.Context, _ []byte, category string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s/%d", category, s.n), nil
}

func (f *fixture) job(t *testing.T, id string) *model.Job {
	t.Helper()
	j, err := f.repo.Get(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return j
}

func TestReconcile_SuccessCompletesJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.seed(t, "j1", "runway", model.JobDispatched, time.Minute)
	f.provider.res = adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{URL: "https://cdn/v.mp4"}}

	stats, err := f.rec.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Polled != 1 || stats.Advanced != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	j := f.job(t, "j1")
	if j.State != model.JobCompleted || j.AssetRef != "https://cdn/v.mp4" {
		t.Fatalf("unexpected job: %+v", j)
	}
	if len(f.provider.polls) != 1 || f.provider.polls[0] != "h-j1" {
		t.Fatalf("polled handles: %v", f.provider.polls)
	}
}

func TestReconcile_OnlyDispatchedJobsArePolled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.seed(t, "pending", "", model.JobPending, time.Hour)
	stats, _ := f.rec.Reconcile(context.Background())
	if stats.Polled != 0 || len(f.provider.polls) != 0 {
		t.Fatalf("pending job was polled: %+v", stats)
	}
	if f.job(t, "pending").State != model.JobPending {
		t.Fatal("pending job changed state")
	}
}

func TestReconcile_TransientErrorLeavesJobDispatched(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.seed(t, "j1", "runway", model.JobDispatched, 5*time.Minute)
	f.provider.err = domain.NewProviderError("runway", domain.ErrProviderFailure, 502, "bad gateway")

	stats, _ := f.rec.Reconcile(context.Background())
	if stats.Errors != 1 || stats.Stale != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if j := f.job(t, "j1"); j.State != model.JobDispatched {
		t.Fatalf("transient error moved job to %s", j.State)
	}
}

func TestReconcile_RunningPastDeadlineGoesStale(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.seed(t, "j1", "runway", model.JobDispatched, 31*time.Minute)

	stats, _ := f.rec.Reconcile(context.Background())
	if stats.Stale != 1 {
		t.Fatalf("expected stale, got %+v", stats)
	}
	j := f.job(t, "j1")
	if j.State != model.JobFailed || j.ErrorCode != domain.Code(domain.ErrStaleJob) {
		t.Fatalf("unexpected job: %+v", j)
	}
}

func TestReconcile_LateSuccessBeatsDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.seed(t, "j1", "runway", model.JobDispatched, 45*time.Minute)
	f.provider.res = adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{URL: "https://cdn/late.mp4"}}

	f.rec.Reconcile(context.Background())
	if j := f.job(t, "j1"); j.State != model.JobCompleted {
		t.Fatalf("late success lost: %+v", j)
	}
}

func TestReconcile_UnknownProviderIsTransientUntilStale(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.seed(t, "fresh", "retired", model.JobDispatched, time.Minute)
	f.seed(t, "old", "retired", model.JobDispatched, time.Hour)

	f.rec.Reconcile(context.Background())
	if j := f.job(t, "fresh"); j.State != model.JobDispatched {
		t.Fatalf("fresh job should wait: %s", j.State)
	}
	if j := f.job(t, "old"); j.State != model.JobFailed || j.ErrorCode != "stale_job" {
		t.Fatalf("old job should be stale: %+v", j)
	}
}

type heldLeader struct{}

func (heldLeader) TryLock(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("held")
}
func (heldLeader) Unlock(context.Context, string, string) error { return nil }

func TestReconcile_SkipsWithoutLease(t *testing.T) {
	t.Parallel()
	f := newFixture(t, heldLeader{})
	f.seed(t, "j1", "runway", model.JobDispatched, time.Minute)
	stats, err := f.rec.Reconcile(context.Background())
	if err != nil || !stats.Skipped || len(f.provider.polls) != 0 {
		t.Fatalf("expected skipped tick: %+v %v", stats, err)
	}
}

func TestReconcile_FailedDownloadIsRetriedNextTick(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	fetch := &flakyFetcher{down: true}
	store := &countingStore{}
	f.withStorage(store, fetch)
	f.seed(t, "j1", "runway", model.JobDispatched, 5*time.Minute)
	f.provider.res = adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{URL: "https://cdn/v.mp4"}}

	stats, _ := f.rec.Reconcile(context.Background())
	if stats.Errors != 1 || stats.Advanced != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if j := f.job(t, "j1"); j.State != model.JobDispatched || j.AssetRef != "" {
		t.Fatalf("download error moved the job: %+v", j)
	}

	fetch.setDown(false)
	if stats, _ := f.rec.Reconcile(context.Background()); stats.Advanced != 1 {
		t.Fatalf("second tick did not complete the job: %+v", stats)
	}
	if j := f.job(t, "j1"); j.State != model.JobCompleted || j.AssetRef != "scenes/1" {
		t.Fatalf("unexpected job: %+v", j)
	}
	if store.n != 1 {
		t.Fatalf("asset stored %d times", store.n)
	}
}

func TestReconcile_DownloadFailingPastDeadlineGoesStale(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.withStorage(&countingStore{}, &flakyFetcher{down: true})
	f.seed(t, "j1", "runway", model.JobDispatched, 31*time.Minute)
	f.provider.res = adapter.PollResult{Status: adapter.PollSucceeded, Asset: &adapter.Asset{URL: "https://cdn/v.mp4"}}

	if stats, _ := f.rec.Reconcile(context.Background()); stats.Stale != 1 {
		t.Fatalf("expected stale, got %+v", stats)
	}
	if j := f.job(t, "j1"); j.State != model.JobFailed || j.ErrorCode != "stale_job" {
		t.Fatalf("unexpected job: %+v", j)
	}
}
