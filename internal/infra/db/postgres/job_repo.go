package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `id, kind, capability, owner_id, user_id, state, provider_id, external_handle, input,
asset_ref, progress, error_code, last_error, attempts, created_at, updated_at, dispatched_at, finished_at`

func (r *JobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("encode job input: %w", err)
	}
	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18);`
	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, string(job.Kind), string(job.Capability), job.OwnerID, job.UserID, string(job.State),
		job.ProviderID, job.ExternalHandle, input, job.AssetRef, job.Progress, job.ErrorCode, job.LastError,
		job.Attempts, job.CreatedAt, job.UpdatedAt, job.DispatchedAt, job.FinishedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateState is a compare-and-set on the state column.
func (r *JobRepo) UpdateState(ctx context.Context, tx repository.Tx, job *model.Job, expected model.JobState) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("encode job input: %w", err)
	}
	const q = `
UPDATE jobs SET
  state = $3, provider_id = $4, external_handle = $5, input = $6, asset_ref = $7, progress = $8,
  error_code = $9, last_error = $10, attempts = $11, updated_at = $12, dispatched_at = $13, finished_at = $14
WHERE id = $1 AND state = $2;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		job.ID, string(expected), string(job.State), job.ProviderID, job.ExternalHandle, input, job.AssetRef,
		job.Progress, job.ErrorCode, job.LastError, job.Attempts, job.UpdatedAt, job.DispatchedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// tell a missing row from a lost race
	if _, err := r.Get(ctx, tx, job.ID); err != nil {
		return err
	}
	return domain.ErrStaleState
}

func (r *JobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *JobRepo) ListNonTerminal(ctx context.Context, tx repository.Tx, c model.Capability) ([]*model.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs
WHERE capability = $1 AND state IN ('pending', 'dispatched') ORDER BY created_at, id;`
	return r.list(ctx, tx, q, string(c))
}

func (r *JobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string) ([]*model.Job, error) {
	return r.list(ctx, tx, `SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1 ORDER BY created_at, id;`, ownerID)
}

func (r *JobRepo) DeleteByOwner(ctx context.Context, tx repository.Tx, ownerID string) (int64, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM jobs WHERE owner_id = $1;`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Job, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j                       model.Job
		kind, capability, state string
		input                   []byte
	)
	err := row.Scan(&j.ID, &kind, &capability, &j.OwnerID, &j.UserID, &state, &j.ProviderID, &j.ExternalHandle,
		&input, &j.AssetRef, &j.Progress, &j.ErrorCode, &j.LastError, &j.Attempts, &j.CreatedAt, &j.UpdatedAt,
		&j.DispatchedAt, &j.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	j.Kind, j.Capability, j.State = model.JobKind(kind), model.Capability(capability), model.JobState(state)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &j.Input); err != nil {
			return nil, fmt.Errorf("%w: job input: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &j, nil
}
