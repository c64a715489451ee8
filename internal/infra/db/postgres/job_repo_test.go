//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/repository"
)

func newTestJob(t *testing.T, kind model.JobKind, owner string) *model.Job {
	t.Helper()
	j, err := model.NewJob(uuid.NewString(), kind, owner, "u1",
		model.GenerationRequest{Prompt: "a lighthouse", Metadata: map[string]string{"k": "v"}}, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return j
}

func TestJobRepo_Integration(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo(testPool)

	t.Run("create and get round trip", func(t *testing.T) {
		cleanup(t)
		j := newTestJob(t, model.JobKindScene, "scene-1")
		if err := repo.Create(ctx, nil, j); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := repo.Create(ctx, nil, j); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("duplicate create: %v", err)
		}
		got, err := repo.Get(ctx, nil, j.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Capability != model.CapabilityVideo || got.Input.Prompt != "a lighthouse" || got.Input.Metadata["k"] != "v" {
			t.Fatalf("unexpected job: %+v", got)
		}
		if _, err := repo.Get(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("missing: %v", err)
		}
	})

	t.Run("update state is compare and set", func(t *testing.T) {
		cleanup(t)
		j := newTestJob(t, model.JobKindAvatar, "avatar-1")
		_ = repo.Create(ctx, nil, j)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cp := j.Clone()
				cp.State = model.JobDispatched
				cp.ExternalHandle = uuid.NewString()
				errs[i] = repo.UpdateState(ctx, nil, cp, model.JobPending)
			}(i)
		}
		wg.Wait()
		ok, stale := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrStaleState):
				stale++
			}
		}
		if ok != 1 || stale != 1 {
			t.Fatalf("expected one winner and one stale writer, got %v", errs)
		}

		ghost := newTestJob(t, model.JobKindAvatar, "avatar-1")
		if err := repo.UpdateState(ctx, nil, ghost, model.JobPending); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("missing row: %v", err)
		}
	})

	t.Run("non-terminal and owner listings", func(t *testing.T) {
		cleanup(t)
		open := newTestJob(t, model.JobKindScene, "scene-a")
		done := newTestJob(t, model.JobKindScene, "scene-a")
		_ = repo.Create(ctx, nil, open)
		_ = repo.Create(ctx, nil, done)
		cp := done.Clone()
		cp.State = model.JobFailed
		if err := repo.UpdateState(ctx, nil, cp, model.JobPending); err != nil {
			t.Fatalf("fail job: %v", err)
		}

		pending, err := repo.ListNonTerminal(ctx, nil, model.CapabilityVideo)
		if err != nil || len(pending) != 1 || pending[0].ID != open.ID {
			t.Fatalf("non-terminal: %+v %v", pending, err)
		}
		owned, _ := repo.ListByOwner(ctx, nil, "scene-a")
		if len(owned) != 2 {
			t.Fatalf("owner listing: %d", len(owned))
		}
		n, err := repo.DeleteByOwner(ctx, nil, "scene-a")
		if err != nil || n != 2 {
			t.Fatalf("delete: %d %v", n, err)
		}
	})

	t.Run("writes inside a transaction roll back", func(t *testing.T) {
		cleanup(t)
		tm := NewTxManager(testPool)
		j := newTestJob(t, model.JobKindVoice, "voice-1")
		boom := errors.New("boom")
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.Create(ctx, tx, j); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("tx: %v", err)
		}
		if _, err := repo.Get(ctx, nil, j.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("rolled back job visible: %v", err)
		}
	})
}
