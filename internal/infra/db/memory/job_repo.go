// Package memory holds in-process repositories for dev mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*model.Job)}
}

func (r *JobRepo) Create(_ context.Context, _ repository.Tx, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepo) UpdateState(_ context.Context, _ repository.Tx, job *model.Job, expected model.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.State != expected {
		return domain.ErrStaleState
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepo) Get(_ context.Context, _ repository.Tx, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *JobRepo) ListNonTerminal(_ context.Context, _ repository.Tx, c model.Capability) ([]*model.Job, error) {
	return r.filter(func(j *model.Job) bool { return j.Capability == c && !j.State.Terminal() }), nil
}

func (r *JobRepo) ListByOwner(_ context.Context, _ repository.Tx, ownerID string) ([]*model.Job, error) {
	return r.filter(func(j *model.Job) bool { return j.OwnerID == ownerID }), nil
}

func (r *JobRepo) DeleteByOwner(_ context.Context, _ repository.Tx, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, j := range r.jobs {
		if j.OwnerID == ownerID {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

// filter returns clones ordered by creation time.
func (r *JobRepo) filter(keep func(*model.Job) bool) []*model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Job
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}
