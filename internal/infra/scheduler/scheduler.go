package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Task is one periodic unit of work.
type Task func(ctx context.Context) error

// Scheduler runs a Task every interval with a bounded timeout per run.
type Scheduler struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     Task
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler. If interval <= 0 it defaults to 1 minute;
// a timeout <= 0 defaults to the interval.
func NewScheduler(name string, interval, timeout time.Duration, task Task, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	l := logger.With().Str("component", "Scheduler").Str("task", name).Logger()
	return &Scheduler{
		name:     name,
		interval: interval,
		timeout:  timeout,
		task:     task,
		log:      &l,
		done:     make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine. Calling Start twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parentCtx)
	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce runs the task immediately under the configured timeout.
func (s *Scheduler) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.task(runCtx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("scheduled task failed")
	}
}

// Stop cancels the loop and waits for an in-flight run to return. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
}
