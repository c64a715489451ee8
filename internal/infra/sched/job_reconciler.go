package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/logging"
	"cineai/internal/infra/metrics"
)

// JobSource is the part of the job tracker the reconciler drives.
type JobSource interface {
	ListNonTerminal(ctx context.Context, c model.Capability) ([]*model.Job, error)
	ApplyPoll(ctx context.Context, id string, res adapter.PollResult) (*model.Job, error)
	Fail(ctx context.Context, id string, cause error) (*model.Job, error)
}

// ProviderLookup resolves the provider that issued a handle.
type ProviderLookup interface {
	Synthesis(id string) (adapter.SynthesisProvider, bool)
}

// Leader guards a tick so only one replica polls at a time.
type Leader interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type ReconcilerConfig struct {
	MaxUnresolved time.Duration
	PollTimeout   time.Duration
	Concurrency   int
	LockKey       string
	LockTTL       time.Duration
}

// TickStats summarizes one reconcile pass.
type TickStats struct {
	Polled   int
	Advanced int
	Errors   int
	Stale    int
	Skipped  bool
}

// JobReconciler polls every dispatched asynchronous job through the provider recorded at
// dispatch and folds the result into the tracker. Poll errors leave the job untouched until
// it has been unresolved for MaxUnresolved, at which point it fails with ErrStaleJob.
type JobReconciler struct {
	jobs      JobSource
	providers ProviderLookup
	leader    Leader
	cfg       ReconcilerConfig
	log       *zerolog.Logger
	now       func() time.Time
}

func NewJobReconciler(jobs JobSource, providers ProviderLookup, leader Leader, cfg ReconcilerConfig, logger *zerolog.Logger) *JobReconciler {
	if cfg.MaxUnresolved <= 0 {
		cfg.MaxUnresolved = 30 * time.Minute
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 20 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "lock:reconcile"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	l := logger.With().Str("component", "JobReconciler").Logger()
	return &JobReconciler{jobs: jobs, providers: providers, leader: leader, cfg: cfg, log: &l, now: time.Now}
}

func (r *JobReconciler) WithClock(now func() time.Time) *JobReconciler {
	r.now = now
	return r
}

// Tick runs one pass. It is the scheduler task.
func (r *JobReconciler) Tick(ctx context.Context) error {
	_, err := r.Reconcile(ctx)
	return err
}

// Reconcile runs one pass and reports what it did.
func (r *JobReconciler) Reconcile(ctx context.Context) (TickStats, error) {
	start := time.Now()
	defer func() { metrics.ObserveReconcileTick(time.Since(start).Seconds()) }()

	if r.leader != nil {
		token, err := r.leader.TryLock(ctx, r.cfg.LockKey, r.cfg.LockTTL)
		if err != nil {
			r.log.Debug().Err(err).Msg("reconcile lease not acquired; skipping tick")
			return TickStats{Skipped: true}, nil
		}
		defer func() {
			if err := r.leader.Unlock(context.WithoutCancel(ctx), r.cfg.LockKey, token); err != nil {
				r.log.Warn().Err(err).Msg("release reconcile lease")
			}
		}()
	}

	var due []*model.Job
	for _, c := range model.Capabilities {
		if !c.Async() {
			continue
		}
		jobs, err := r.jobs.ListNonTerminal(ctx, c)
		if err != nil {
			return TickStats{}, fmt.Errorf("list %s jobs: %w", c, err)
		}
		for _, j := range jobs {
			if j.State == model.JobDispatched {
				due = append(due, j)
			}
		}
	}

	outcomes := make([]outcome, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, j := range due {
		i, j := i, j
		g.Go(func() error {
			outcomes[i] = r.reconcileOne(gctx, j)
			return nil
		})
	}
	_ = g.Wait()

	stats := TickStats{Polled: len(due)}
	for _, o := range outcomes {
		switch o {
		case outcomeAdvanced:
			stats.Advanced++
		case outcomeError:
			stats.Errors++
		case outcomeStale:
			stats.Stale++
			stats.Errors++
		}
	}
	if stats.Polled > 0 {
		r.log.Info().Int("polled", stats.Polled).Int("advanced", stats.Advanced).Int("errors", stats.Errors).
			Int("stale", stats.Stale).Dur("took", time.Since(start)).Msg("reconcile tick")
	}
	return stats, ctx.Err()
}

type outcome int

const (
	outcomeRunning outcome = iota
	outcomeAdvanced
	outcomeError
	outcomeStale
)

func (r *JobReconciler) reconcileOne(ctx context.Context, job *model.Job) outcome {
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, r.log).With().Str("provider", job.ProviderID).Str("kind", string(job.Kind)).Logger()

	var (
		res adapter.PollResult
		err error
	)
	p, ok := r.providers.Synthesis(job.ProviderID)
	if !ok {
		err = fmt.Errorf("%w: provider %q is not registered", domain.ErrConfiguration, job.ProviderID)
	} else {
		pctx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
		res, err = p.Poll(pctx, job.ExternalHandle)
		cancel()
	}

	if err == nil {
		metrics.IncReconcilePoll(job.ProviderID, string(res.Status))
		updated, aerr := r.jobs.ApplyPoll(ctx, job.ID, res)
		if aerr != nil {
			// asset transfer failures leave the job dispatched; the stale deadline still applies
			log.Warn().Err(aerr).Msg("apply poll result; will retry next tick")
			err = aerr
		} else if updated != nil && updated.State.Terminal() {
			log.Info().Str("state", string(updated.State)).Msg("job resolved")
			return outcomeAdvanced
		}
	} else {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return outcomeError
		}
		metrics.IncReconcilePoll(job.ProviderID, "error")
		log.Warn().Err(err).Msg("poll failed; will retry next tick")
	}

	since := job.CreatedAt
	if job.DispatchedAt != nil {
		since = *job.DispatchedAt
	}
	if unresolved := r.now().Sub(since); unresolved >= r.cfg.MaxUnresolved {
		cause := fmt.Errorf("%w: unresolved for %s", domain.ErrStaleJob, unresolved.Truncate(time.Second))
		if err != nil {
			cause = fmt.Errorf("%w: unresolved for %s, last poll error: %v", domain.ErrStaleJob, unresolved.Truncate(time.Second), err)
		}
		if _, ferr := r.jobs.Fail(ctx, job.ID, cause); ferr != nil {
			log.Error().Err(ferr).Msg("fail stale job")
			return outcomeError
		}
		metrics.IncReconcilePoll(job.ProviderID, "stale")
		log.Warn().Dur("unresolved", unresolved).Msg("job forced to failed")
		return outcomeStale
	}
	if err != nil {
		return outcomeError
	}
	return outcomeRunning
}
