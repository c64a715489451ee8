package repository

import (
	"context"

	"cineai/internal/domain/model"
)

type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.Job) error
	// UpdateState persists every mutable field of job only if the stored state still equals expected.
	// It returns domain.ErrStaleState when another writer got there first.
	UpdateState(ctx context.Context, tx Tx, job *model.Job, expected model.JobState) error
	Get(ctx context.Context, tx Tx, id string) (*model.Job, error)
	ListNonTerminal(ctx context.Context, tx Tx, capability model.Capability) ([]*model.Job, error)
	ListByOwner(ctx context.Context, tx Tx, ownerID string) ([]*model.Job, error)
	DeleteByOwner(ctx context.Context, tx Tx, ownerID string) (int64, error)
}
