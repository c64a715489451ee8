package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/domain/ports/repository"
	"cineai/internal/infra/logging"
	"cineai/internal/infra/metrics"
)

// Dispatcher is the part of FallbackDispatcher the job layer needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, c model.Capability, req DispatchRequest) (*Result, error)
}

// TransitionListener observes persisted job state changes. It is called after the job lock is released.
type TransitionListener func(ctx context.Context, t model.JobTransition)

// JobTracker owns the job state machine. Every mutation of a job goes through it,
// serialized per job id and guarded by a compare-and-set on the stored state.
type JobTracker struct {
	repo     repository.JobRepository
	dispatch Dispatcher
	files    adapter.FileStore
	fetcher  adapter.AssetFetcher
	locks    *keyedMutex

	lmu       sync.RWMutex
	listeners []TransitionListener

	log *zerolog.Logger
	now func() time.Time
}

func NewJobTracker(repo repository.JobRepository, dispatch Dispatcher, files adapter.FileStore, fetcher adapter.AssetFetcher, logger *zerolog.Logger) *JobTracker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "JobTracker").Logger()
	return &JobTracker{
		repo:     repo,
		dispatch: dispatch,
		files:    files,
		fetcher:  fetcher,
		locks:    newKeyedMutex(),
		log:      &l,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (t *JobTracker) WithClock(now func() time.Time) *JobTracker {
	t.now = now
	return t
}

func (t *JobTracker) Subscribe(l TransitionListener) {
	t.lmu.Lock()
	t.listeners = append(t.listeners, l)
	t.lmu.Unlock()
}

// Create persists a new pending job.
func (t *JobTracker) Create(ctx context.Context, kind model.JobKind, ownerID, userID string, input model.GenerationRequest) (*model.Job, error) {
	// v7 ids sort in creation order, which breaks created_at ties in listings
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	job, err := model.NewJob(id.String(), kind, ownerID, userID, input, t.now())
	if err != nil {
		return nil, err
	}
	if err := t.repo.Create(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.IncJobTransition(string(kind), string(model.JobPending))
	logging.With(logging.WithJobID(ctx, job.ID), t.log).Info().
		Str("kind", string(kind)).Str("owner_id", ownerID).Msg("job created")
	return job.Clone(), nil
}

// Dispatch hands a pending job to the providers of its capability. A job in any other
// state is returned unchanged. Synchronous providers complete the job here; polling
// providers leave it dispatched with their handle recorded. A cancelled ctx leaves the job pending.
func (t *JobTracker) Dispatch(ctx context.Context, id string) (*model.Job, error) {
	return t.mutate(ctx, id, func(ctx context.Context, job *model.Job) (*model.JobTransition, error) {
		if job.State != model.JobPending {
			return nil, nil
		}
		job.Attempts++
		res, err := t.dispatch.Dispatch(ctx, job.Capability, DispatchRequest{
			UserID: job.UserID,
			Synthesis: &adapter.SynthesisRequest{
				JobID: job.ID,
				Kind:  job.Kind,
				Input: job.Input,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return t.finish(ctx, job, model.JobFailed, err)
		}

		job.ProviderID = res.ProviderID
		sub := res.Submission
		if sub.Asset != nil {
			ref, serr := t.persistAsset(ctx, job, sub.Asset)
			if serr != nil {
				return t.finish(ctx, job, model.JobFailed, serr)
			}
			job.AssetRef = ref
			job.Progress = 100
			return t.finish(ctx, job, model.JobCompleted, nil)
		}
		job.ExternalHandle = sub.Handle
		return t.transition(ctx, job, model.JobDispatched)
	})
}

// ApplyPoll folds one poll result into a dispatched job. Results for jobs in any other
// state are ignored, so a repeated success stores its asset once.
func (t *JobTracker) ApplyPoll(ctx context.Context, id string, res adapter.PollResult) (*model.Job, error) {
	return t.mutate(ctx, id, func(ctx context.Context, job *model.Job) (*model.JobTransition, error) {
		if job.State != model.JobDispatched {
			return nil, nil
		}
		switch res.Status {
		case adapter.PollRunning:
			if res.Progress <= job.Progress || res.Progress > 100 {
				return nil, nil
			}
			job.Progress = res.Progress
			job.UpdatedAt = t.now()
			return nil, t.repo.UpdateState(context.WithoutCancel(ctx), nil, job, model.JobDispatched)
		case adapter.PollSucceeded:
			if res.Asset == nil {
				return t.finish(ctx, job, model.JobFailed,
					domain.NewProviderError(job.ProviderID, domain.ErrMalformedResponse, 0, "succeeded without an asset"))
			}
			ref, err := t.persistAsset(ctx, job, res.Asset)
			switch {
			case errors.Is(err, domain.ErrMalformedResponse), errors.Is(err, domain.ErrConfiguration):
				return t.finish(ctx, job, model.JobFailed, err)
			case err != nil:
				// the render is done upstream; stay dispatched so the next poll retries the transfer
				return nil, err
			}
			job.AssetRef = ref
			job.Progress = 100
			return t.finish(ctx, job, model.JobCompleted, nil)
		case adapter.PollFailed:
			reason := res.Reason
			if reason == "" {
				reason = "provider reported failure"
			}
			return t.finish(ctx, job, model.JobFailed, domain.NewProviderError(job.ProviderID, domain.ErrProviderFailure, 0, reason))
		default:
			return nil, fmt.Errorf("%w: poll status %q", domain.ErrMalformedResponse, res.Status)
		}
	})
}

// Fail forces a non-terminal job to failed with cause. Terminal jobs are returned unchanged.
func (t *JobTracker) Fail(ctx context.Context, id string, cause error) (*model.Job, error) {
	return t.mutate(ctx, id, func(ctx context.Context, job *model.Job) (*model.JobTransition, error) {
		if job.State.Terminal() {
			return nil, nil
		}
		return t.finish(ctx, job, model.JobFailed, cause)
	})
}

// SetInput replaces the payload of a job that has not been dispatched yet.
func (t *JobTracker) SetInput(ctx context.Context, id string, input model.GenerationRequest) (*model.Job, error) {
	return t.mutate(ctx, id, func(ctx context.Context, job *model.Job) (*model.JobTransition, error) {
		if job.State != model.JobPending {
			return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, job.ID, job.State)
		}
		job.Input = input
		job.UpdatedAt = t.now()
		return nil, t.repo.UpdateState(ctx, nil, job, model.JobPending)
	})
}

func (t *JobTracker) Get(ctx context.Context, id string) (*model.Job, error) {
	return t.repo.Get(ctx, nil, id)
}

func (t *JobTracker) Status(ctx context.Context, id string) (model.JobStatus, error) {
	job, err := t.repo.Get(ctx, nil, id)
	if err != nil {
		return model.JobStatus{}, err
	}
	return job.Status(), nil
}

func (t *JobTracker) ListNonTerminal(ctx context.Context, c model.Capability) ([]*model.Job, error) {
	return t.repo.ListNonTerminal(ctx, nil, c)
}

func (t *JobTracker) ListByOwner(ctx context.Context, ownerID string) ([]*model.Job, error) {
	return t.repo.ListByOwner(ctx, nil, ownerID)
}

// DeleteForOwner removes every job of an owning entity that is itself being deleted.
func (t *JobTracker) DeleteForOwner(ctx context.Context, ownerID string) (int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, domain.ErrInvalidArgument
	}
	n, err := t.repo.DeleteByOwner(ctx, nil, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	t.log.Info().Str("owner_id", ownerID).Int64("deleted", n).Msg("jobs deleted with owner")
	return n, nil
}

type mutation func(ctx context.Context, job *model.Job) (*model.JobTransition, error)

// mutate loads the job under its lock, applies fn and publishes the resulting transition
// once the lock is released.
func (t *JobTracker) mutate(ctx context.Context, id string, fn mutation) (*model.Job, error) {
	ctx = logging.WithJobID(ctx, id)
	var ev *model.JobTransition
	job, err := func() (*model.Job, error) {
		unlock := t.locks.Lock(id)
		defer unlock()
		job, err := t.repo.Get(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if ev, err = fn(ctx, job); err != nil {
			return nil, err
		}
		return job.Clone(), nil
	}()
	if err != nil {
		return nil, err
	}
	if ev != nil {
		t.publish(context.WithoutCancel(ctx), *ev)
	}
	return job, nil
}

// finish moves job to a terminal state, recording cause when it failed.
func (t *JobTracker) finish(ctx context.Context, job *model.Job, to model.JobState, cause error) (*model.JobTransition, error) {
	if cause != nil {
		job.ErrorCode = domain.Code(cause)
		job.LastError = cause.Error()
	}
	return t.transition(ctx, job, to)
}

func (t *JobTracker) transition(ctx context.Context, job *model.Job, to model.JobState) (*model.JobTransition, error) {
	from := job.State
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	now := t.now()
	job.State = to
	job.UpdatedAt = now
	switch {
	case to == model.JobDispatched:
		job.DispatchedAt = &now
	case to.Terminal():
		job.FinishedAt = &now
	}
	// a provider may already be working on the job; its handle must not be lost to a cancelled caller
	if err := t.repo.UpdateState(context.WithoutCancel(ctx), nil, job, from); err != nil {
		return nil, fmt.Errorf("persist %s -> %s: %w", from, to, err)
	}
	metrics.IncJobTransition(string(job.Kind), string(to))

	ev := logging.With(ctx, t.log).Info()
	if to == model.JobFailed {
		ev = logging.With(ctx, t.log).Warn().Str("error_code", job.ErrorCode).Str("error", job.LastError)
	}
	ev.Str("kind", string(job.Kind)).Str("from", string(from)).Str("to", string(to)).
		Str("provider", job.ProviderID).Msg("job transition")

	return &model.JobTransition{Job: job.Clone(), From: from, To: to}, nil
}

func (t *JobTracker) publish(ctx context.Context, ev model.JobTransition) {
	t.lmu.RLock()
	ls := append([]TransitionListener(nil), t.listeners...)
	t.lmu.RUnlock()
	for _, l := range ls {
		l(ctx, ev)
	}
}

// persistAsset turns provider output into a durable reference in the file store.
func (t *JobTracker) persistAsset(ctx context.Context, job *model.Job, a *adapter.Asset) (string, error) {
	data := a.Data
	if len(data) == 0 {
		if a.URL == "" {
			return "", domain.NewProviderError(job.ProviderID, domain.ErrMalformedResponse, 0, "empty asset")
		}
		if t.fetcher == nil || t.files == nil {
			return a.URL, nil
		}
		var err error
		if data, err = t.fetcher.Fetch(ctx, a.URL); err != nil {
			return "", fmt.Errorf("download asset: %w", err)
		}
	}
	if t.files == nil {
		return "", fmt.Errorf("%w: no file store for inline asset", domain.ErrConfiguration)
	}
	ref, err := t.files.Store(ctx, data, job.Kind.AssetCategory())
	if err != nil {
		return "", fmt.Errorf("store asset: %w", err)
	}
	return ref, nil
}
