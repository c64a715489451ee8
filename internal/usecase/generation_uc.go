package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/infra/logging"
)

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

// GenerationUseCase is the entry point for asynchronous generation work.
type GenerationUseCase interface {
	SubmitAvatar(ctx context.Context, userID, avatarID string, in model.GenerationRequest) (*model.Job, error)
	SubmitVoice(ctx context.Context, userID, ownerID string, in model.GenerationRequest) (*model.Job, error)
	SubmitProject(ctx context.Context, sub ProjectSubmission) (string, error)
	RetryProject(ctx context.Context, userID, projectID string) (string, error)
	RetryJob(ctx context.Context, userID, jobID string) (*model.Job, error)
	JobStatus(ctx context.Context, userID, jobID string) (model.JobStatus, error)
	ListJobs(ctx context.Context, userID, ownerID string) ([]model.JobStatus, error)
	ResumePending(ctx context.Context) (int, error)
}

type generationUC struct {
	tracker  *JobTracker
	projects *ProjectScheduler
	runner   Runner
	log      *zerolog.Logger
}

func NewGenerationUseCase(tracker *JobTracker, projects *ProjectScheduler, runner Runner, logger *zerolog.Logger) *generationUC {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "GenerationUseCase").Logger()
	return &generationUC{tracker: tracker, projects: projects, runner: runner, log: &l}
}

func (g *generationUC) SubmitAvatar(ctx context.Context, userID, avatarID string, in model.GenerationRequest) (*model.Job, error) {
	if strings.TrimSpace(in.Name) == "" && len(in.PhotoURLs) == 0 && strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("%w: avatar needs a name, a prompt or photos", domain.ErrInvalidArgument)
	}
	return g.submit(ctx, model.JobKindAvatar, userID, avatarID, in)
}

func (g *generationUC) SubmitVoice(ctx context.Context, userID, ownerID string, in model.GenerationRequest) (*model.Job, error) {
	if strings.TrimSpace(in.Script) == "" {
		return nil, fmt.Errorf("%w: voice synthesis needs a script", domain.ErrInvalidArgument)
	}
	return g.submit(ctx, model.JobKindVoice, userID, ownerID, in)
}

func (g *generationUC) SubmitProject(ctx context.Context, sub ProjectSubmission) (string, error) {
	return g.projects.SubmitProject(ctx, sub)
}

func (g *generationUC) RetryProject(ctx context.Context, userID, projectID string) (string, error) {
	return g.projects.RetryFailedScenes(ctx, projectID, userID)
}

// RetryJob creates a new job for the owner of a failed avatar or voice job.
// The failed job stays as it is.
func (g *generationUC) RetryJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	old, err := g.owned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if old.State != model.JobFailed {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, old.ID, old.State)
	}
	if old.Kind == model.JobKindScene || old.Kind == model.JobKindAssembly {
		return nil, fmt.Errorf("%w: project jobs are retried per project", domain.ErrInvalidArgument)
	}
	return g.submit(ctx, old.Kind, userID, old.OwnerID, old.Input)
}

func (g *generationUC) JobStatus(ctx context.Context, userID, jobID string) (model.JobStatus, error) {
	job, err := g.owned(ctx, userID, jobID)
	if err != nil {
		return model.JobStatus{}, err
	}
	return job.Status(), nil
}

func (g *generationUC) ListJobs(ctx context.Context, userID, ownerID string) ([]model.JobStatus, error) {
	jobs, err := g.tracker.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]model.JobStatus, 0, len(jobs))
	for _, j := range jobs {
		if j.UserID == userID {
			out = append(out, j.Status())
		}
	}
	return out, nil
}

// ResumePending restarts avatar and voice jobs that were accepted but never dispatched.
func (g *generationUC) ResumePending(ctx context.Context) (int, error) {
	n := 0
	for _, c := range []model.Capability{model.CapabilityAvatar, model.CapabilityVoice} {
		jobs, err := g.tracker.ListNonTerminal(ctx, c)
		if err != nil {
			return n, err
		}
		for _, j := range jobs {
			if j.State != model.JobPending {
				continue
			}
			if err := g.start(ctx, j.ID); err != nil {
				continue
			}
			n++
		}
	}
	return n, nil
}

func (g *generationUC) submit(ctx context.Context, kind model.JobKind, userID, ownerID string, in model.GenerationRequest) (*model.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthorized
	}
	job, err := g.tracker.Create(logging.WithUserID(ctx, userID), kind, ownerID, userID, in)
	if err != nil {
		return nil, err
	}
	if err := g.start(ctx, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func (g *generationUC) start(ctx context.Context, id string) error {
	err := queueDispatch(ctx, g.runner, g.tracker, id)
	if err != nil {
		logging.With(ctx, g.log).Error().Err(err).Str("job_id", id).Msg("queue job dispatch")
	}
	return err
}

func (g *generationUC) owned(ctx context.Context, userID, jobID string) (*model.Job, error) {
	job, err := g.tracker.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return job, nil
}
