package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/infra/logging"
)

// Runner executes background tasks. Tasks receive the runner's own context, not the caller's.
type Runner interface {
	Submit(ctx context.Context, task func(ctx context.Context) error) error
}

type SceneRequest struct {
	SceneID string
	Input   model.GenerationRequest
}

type ProjectSubmission struct {
	ProjectID string
	UserID    string
	Scenes    []SceneRequest
	// Output carries assembly options; scene assets are filled in when assembly is released.
	Output model.GenerationRequest
}

// projectGraph gates one assembly job on its scene jobs.
type projectGraph struct {
	projectID  string
	assemblyID string
	scenes     []string // scene job ids in scene order
	states     map[string]model.JobState
	completed  int
	done       bool // assembly released or failed; later scene transitions are ignored
}

type graphAction int

const (
	actNone graphAction = iota
	actRelease
	actFail
)

// observe records a scene job state; it must be called with the project lock held.
func (g *projectGraph) observe(jobID string, st model.JobState) graphAction {
	prev, ok := g.states[jobID]
	if !ok || g.done || prev.Terminal() || !st.Terminal() {
		return actNone
	}
	g.states[jobID] = st
	if st == model.JobFailed {
		g.done = true
		return actFail
	}
	g.completed++
	if g.completed == len(g.scenes) {
		g.done = true
		return actRelease
	}
	return actNone
}

// ProjectScheduler fans scene jobs out and admits the assembly job only once every
// scene job has completed. The first failed scene fails the assembly without dispatching it.
type ProjectScheduler struct {
	tracker *JobTracker
	runner  Runner
	locks   *keyedMutex // per project

	mu     sync.Mutex
	graphs map[string]*projectGraph // project id
	byJob  map[string]string        // scene job id -> project id

	log *zerolog.Logger
}

func NewProjectScheduler(tracker *JobTracker, runner Runner, logger *zerolog.Logger) *ProjectScheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "ProjectScheduler").Logger()
	s := &ProjectScheduler{
		tracker: tracker,
		runner:  runner,
		locks:   newKeyedMutex(),
		graphs:  make(map[string]*projectGraph),
		byJob:   make(map[string]string),
		log:     &l,
	}
	tracker.Subscribe(s.onTransition)
	return s
}

// SubmitProject creates one job per scene plus a pending assembly job and starts the scenes.
// It returns the assembly job id.
func (s *ProjectScheduler) SubmitProject(ctx context.Context, sub ProjectSubmission) (string, error) {
	if err := validateSubmission(sub); err != nil {
		return "", err
	}
	ctx = logging.WithUserID(ctx, sub.UserID)

	unlock := s.locks.Lock(sub.ProjectID)
	if err := s.ensureIdle(ctx, sub.ProjectID); err != nil {
		unlock()
		return "", err
	}
	sceneIDs := make([]string, 0, len(sub.Scenes))
	for i, sc := range sub.Scenes {
		in := sc.Input
		in.Order = i
		job, err := s.tracker.Create(ctx, model.JobKindScene, sc.SceneID, sub.UserID, in)
		if err != nil {
			unlock()
			return "", err
		}
		sceneIDs = append(sceneIDs, job.ID)
	}
	out := sub.Output
	out.SceneJobIDs = sceneIDs
	out.Assets = nil
	out.Metadata = make(map[string]string, len(sub.Output.Metadata)+1)
	for k, v := range sub.Output.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata["project_id"] = sub.ProjectID
	assembly, err := s.tracker.Create(ctx, model.JobKindAssembly, sub.ProjectID, sub.UserID, out)
	if err != nil {
		unlock()
		return "", err
	}
	s.register(sub.ProjectID, assembly.ID, sceneIDs)
	unlock()

	logging.With(ctx, s.log).Info().Str("project_id", sub.ProjectID).Str("assembly_job_id", assembly.ID).
		Int("scenes", len(sceneIDs)).Msg("project submitted")
	if err := s.start(ctx, sceneIDs); err != nil {
		return "", err
	}
	return assembly.ID, nil
}

// RetryFailedScenes resubmits only the failed scenes of the latest submission. Completed scenes
// are reused, scenes still running keep gating, and a new assembly job is created.
func (s *ProjectScheduler) RetryFailedScenes(ctx context.Context, projectID, userID string) (string, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(userID) == "" {
		return "", domain.ErrInvalidArgument
	}
	unlock := s.locks.Lock(projectID)
	prev, err := s.latestAssembly(ctx, projectID)
	if err != nil {
		unlock()
		return "", err
	}
	if prev.UserID != userID {
		unlock()
		return "", domain.ErrForbidden
	}
	if !prev.State.Terminal() || s.active(projectID) {
		unlock()
		return "", domain.ErrActiveSubmission
	}
	if prev.State == model.JobCompleted {
		unlock()
		return "", fmt.Errorf("%w: project %s already assembled", domain.ErrInvalidArgument, projectID)
	}

	sceneIDs := make([]string, 0, len(prev.Input.SceneJobIDs))
	var fresh []string
	for _, id := range prev.Input.SceneJobIDs {
		old, err := s.tracker.Get(ctx, id)
		if err != nil {
			unlock()
			return "", fmt.Errorf("load scene job %s: %w", id, err)
		}
		if old.State != model.JobFailed {
			sceneIDs = append(sceneIDs, old.ID)
			continue
		}
		job, err := s.tracker.Create(ctx, model.JobKindScene, old.OwnerID, userID, old.Input)
		if err != nil {
			unlock()
			return "", err
		}
		sceneIDs = append(sceneIDs, job.ID)
		fresh = append(fresh, job.ID)
	}
	out := prev.Input
	out.SceneJobIDs = sceneIDs
	out.Assets = nil
	assembly, err := s.tracker.Create(ctx, model.JobKindAssembly, projectID, userID, out)
	if err != nil {
		unlock()
		return "", err
	}
	s.register(projectID, assembly.ID, sceneIDs)
	unlock()

	logging.With(ctx, s.log).Info().Str("project_id", projectID).Str("assembly_job_id", assembly.ID).
		Int("retried", len(fresh)).Int("reused", len(sceneIDs)-len(fresh)).Msg("project retry submitted")
	qerr := s.start(ctx, fresh)
	s.sync(ctx, projectID)
	if qerr != nil {
		return "", qerr
	}
	return assembly.ID, nil
}

// Recover rebuilds graphs for pending assembly jobs and restarts scene jobs that never left pending.
// It runs once at startup, before the reconcile loop.
func (s *ProjectScheduler) Recover(ctx context.Context) (int, error) {
	scenes, err := s.tracker.ListNonTerminal(ctx, model.CapabilityVideo)
	if err != nil {
		return 0, fmt.Errorf("list scene jobs: %w", err)
	}
	assemblies, err := s.tracker.ListNonTerminal(ctx, model.CapabilityAssembly)
	if err != nil {
		return 0, fmt.Errorf("list assembly jobs: %w", err)
	}

	recovered := 0
	for _, a := range assemblies {
		if a.Kind != model.JobKindAssembly || a.State != model.JobPending {
			continue
		}
		unlock := s.locks.Lock(a.OwnerID)
		if !s.active(a.OwnerID) {
			s.register(a.OwnerID, a.ID, a.Input.SceneJobIDs)
			recovered++
		}
		unlock()
	}

	var pending []string
	for _, j := range scenes {
		if j.Kind == model.JobKindScene && j.State == model.JobPending {
			pending = append(pending, j.ID)
		}
	}
	if err := s.start(ctx, pending); err != nil {
		s.log.Error().Err(err).Msg("restart pending scenes")
	}

	for _, a := range assemblies {
		if a.Kind == model.JobKindAssembly && a.State == model.JobPending {
			s.sync(ctx, a.OwnerID)
		}
	}
	s.log.Info().Int("projects", recovered).Int("scenes_restarted", len(pending)).Msg("project graphs recovered")
	return recovered, nil
}

func (s *ProjectScheduler) onTransition(ctx context.Context, ev model.JobTransition) {
	switch ev.Job.Kind {
	case model.JobKindScene:
		s.mu.Lock()
		projectID, ok := s.byJob[ev.Job.ID]
		s.mu.Unlock()
		if ok {
			s.observe(ctx, projectID, ev.Job.ID, ev.To, ev.Job.LastError)
		}
	case model.JobKindAssembly:
		if ev.To.Terminal() {
			s.forget(ev.Job.OwnerID, ev.Job.ID)
		}
	}
}

func (s *ProjectScheduler) observe(ctx context.Context, projectID, jobID string, st model.JobState, reason string) {
	unlock := s.locks.Lock(projectID)
	s.mu.Lock()
	g := s.graphs[projectID]
	act := actNone
	if g != nil {
		act = g.observe(jobID, st)
	}
	s.mu.Unlock()
	unlock()

	switch act {
	case actRelease:
		s.release(ctx, g)
	case actFail:
		cause := fmt.Errorf("%w: scene job %s failed: %s", domain.ErrDependencyFailed, jobID, reason)
		if _, err := s.tracker.Fail(ctx, g.assemblyID, cause); err != nil {
			logging.With(ctx, s.log).Error().Err(err).Str("project_id", projectID).Msg("fail assembly")
		}
	}
}

// release fills the assembly input with the scene assets in order and dispatches it on the
// calling goroutine. The caller may be a pool worker, so it must not queue onto the pool.
func (s *ProjectScheduler) release(ctx context.Context, g *projectGraph) {
	ctx = context.WithoutCancel(ctx)
	log := logging.With(ctx, s.log).With().Str("project_id", g.projectID).Str("assembly_job_id", g.assemblyID).Logger()
	assembly, err := s.tracker.Get(ctx, g.assemblyID)
	if err != nil {
		log.Error().Err(err).Msg("load assembly job")
		return
	}
	in := assembly.Input
	in.Assets = make([]string, 0, len(g.scenes))
	for _, id := range g.scenes {
		sc, err := s.tracker.Get(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("scene_job_id", id).Msg("load scene job")
			return
		}
		in.Assets = append(in.Assets, sc.AssetRef)
	}
	if _, err := s.tracker.SetInput(ctx, g.assemblyID, in); err != nil {
		log.Warn().Err(err).Msg("assembly no longer pending")
		return
	}
	log.Info().Msg("all scenes completed; releasing assembly")
	if _, err := s.tracker.Dispatch(ctx, g.assemblyID); err != nil {
		log.Error().Err(err).Msg("dispatch assembly")
	}
}

// start queues a dispatch per job. A job that cannot be queued is failed, which in turn fails
// its project's assembly; the first queueing error is returned.
func (s *ProjectScheduler) start(ctx context.Context, jobIDs []string) error {
	var first error
	for _, id := range jobIDs {
		if err := queueDispatch(ctx, s.runner, s.tracker, id); err != nil {
			logging.With(ctx, s.log).Error().Err(err).Str("job_id", id).Msg("queue job dispatch")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// queueDispatch hands a pending job to runner. When the runner refuses it the job is failed
// so it never sits pending with nothing to move it.
func queueDispatch(ctx context.Context, runner Runner, tracker *JobTracker, id string) error {
	err := runner.Submit(ctx, func(ctx context.Context) error {
		_, err := tracker.Dispatch(ctx, id)
		return err
	})
	if err == nil {
		return nil
	}
	cause := fmt.Errorf("%w: %v", domain.ErrOverloaded, err)
	if _, ferr := tracker.Fail(context.WithoutCancel(ctx), id, cause); ferr != nil {
		return fmt.Errorf("%w (fail job: %v)", cause, ferr)
	}
	return cause
}

// sync applies the stored state of every scene job, covering transitions that happened
// before the graph was registered.
func (s *ProjectScheduler) sync(ctx context.Context, projectID string) {
	s.mu.Lock()
	g := s.graphs[projectID]
	var ids []string
	if g != nil {
		ids = append(ids, g.scenes...)
	}
	s.mu.Unlock()

	for _, id := range ids {
		job, err := s.tracker.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			s.observe(ctx, projectID, id, model.JobFailed, "scene job missing")
		case err != nil:
			logging.With(ctx, s.log).Warn().Err(err).Str("job_id", id).Msg("sync scene job")
		case job.State.Terminal():
			s.observe(ctx, projectID, id, job.State, job.LastError)
		}
	}
}

// register must be called with the project lock held.
func (s *ProjectScheduler) register(projectID, assemblyID string, sceneJobIDs []string) {
	g := &projectGraph{
		projectID:  projectID,
		assemblyID: assemblyID,
		scenes:     append([]string(nil), sceneJobIDs...),
		states:     make(map[string]model.JobState, len(sceneJobIDs)),
	}
	for _, id := range sceneJobIDs {
		g.states[id] = model.JobPending
	}
	s.mu.Lock()
	if old := s.graphs[projectID]; old != nil {
		s.dropLocked(old)
	}
	s.graphs[projectID] = g
	for _, id := range sceneJobIDs {
		s.byJob[id] = projectID
	}
	s.mu.Unlock()
}

func (s *ProjectScheduler) forget(projectID, assemblyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g := s.graphs[projectID]; g != nil && g.assemblyID == assemblyID {
		s.dropLocked(g)
	}
}

func (s *ProjectScheduler) dropLocked(g *projectGraph) {
	for _, id := range g.scenes {
		if s.byJob[id] == g.projectID {
			delete(s.byJob, id)
		}
	}
	delete(s.graphs, g.projectID)
}

func (s *ProjectScheduler) active(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.graphs[projectID]
	return ok
}

// ensureIdle rejects a submission while the project has a non-terminal assembly job.
func (s *ProjectScheduler) ensureIdle(ctx context.Context, projectID string) error {
	if s.active(projectID) {
		return domain.ErrActiveSubmission
	}
	jobs, err := s.tracker.ListByOwner(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list project jobs: %w", err)
	}
	for _, j := range jobs {
		if j.Kind == model.JobKindAssembly && !j.State.Terminal() {
			return domain.ErrActiveSubmission
		}
	}
	return nil
}

func (s *ProjectScheduler) latestAssembly(ctx context.Context, projectID string) (*model.Job, error) {
	jobs, err := s.tracker.ListByOwner(ctx, projectID)
	if err != nil {
		return nil, err
	}
	// jobs come back in creation order
	var latest *model.Job
	for _, j := range jobs {
		if j.Kind == model.JobKindAssembly {
			latest = j
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no submission for project %s", domain.ErrNotFound, projectID)
	}
	return latest, nil
}

func validateSubmission(sub ProjectSubmission) error {
	if strings.TrimSpace(sub.ProjectID) == "" || strings.TrimSpace(sub.UserID) == "" {
		return fmt.Errorf("%w: project and user are required", domain.ErrInvalidArgument)
	}
	if len(sub.Scenes) == 0 {
		return fmt.Errorf("%w: project has no scenes", domain.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(sub.Scenes))
	for _, sc := range sub.Scenes {
		if strings.TrimSpace(sc.SceneID) == "" {
			return fmt.Errorf("%w: scene id is required", domain.ErrInvalidArgument)
		}
		if _, dup := seen[sc.SceneID]; dup {
			return fmt.Errorf("%w: duplicate scene %s", domain.ErrInvalidArgument, sc.SceneID)
		}
		seen[sc.SceneID] = struct{}{}
		if strings.TrimSpace(sc.Input.Prompt) == "" && strings.TrimSpace(sc.Input.Script) == "" {
			return fmt.Errorf("%w: scene %s has neither prompt nor script", domain.ErrInvalidArgument, sc.SceneID)
		}
	}
	return nil
}
