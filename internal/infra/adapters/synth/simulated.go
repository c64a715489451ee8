package synth

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
)

var _ adapter.SynthesisProvider = (*Simulated)(nil)

// Simulated is a dev provider. Each poll advances a handle by Step percent and
// the job succeeds with a small inline asset at 100.
type Simulated struct {
	id   string
	step int

	mu   sync.Mutex
	jobs map[string]int
}

func NewSimulated(id string, step int) *Simulated {
	if step <= 0 {
		step = 25
	}
	return &Simulated{id: id, step: step, jobs: make(map[string]int)}
}

func (s *Simulated) ID() string      { return s.id }
func (s *Simulated) Available() bool { return true }

func (s *Simulated) Start(_ context.Context, req adapter.SynthesisRequest) (adapter.Submission, error) {
	h := "sim-" + uuid.NewString()
	s.mu.Lock()
	s.jobs[h] = 0
	s.mu.Unlock()
	return adapter.Submission{Handle: h}, nil
}

func (s *Simulated) Poll(_ context.Context, handle string) (adapter.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.jobs[handle]
	if !ok {
		return adapter.PollResult{}, domain.NewProviderError(s.id, domain.ErrProviderRejected, 404, "unknown handle")
	}
	p += s.step
	if p < 100 {
		s.jobs[handle] = p
		return adapter.PollResult{Status: adapter.PollRunning, Progress: p}, nil
	}
	delete(s.jobs, handle)
	return adapter.PollResult{
		Status:   adapter.PollSucceeded,
		Progress: 100,
		Asset:    &adapter.Asset{Data: []byte(fmt.Sprintf("simulated asset %s", handle)), ContentType: "text/plain"},
	}, nil
}
