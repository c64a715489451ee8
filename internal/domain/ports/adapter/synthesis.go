package adapter

import (
	"context"

	"cineai/internal/domain/model"
)

// SynthesisRequest is what a synthesis provider receives when a job is dispatched.
type SynthesisRequest struct {
	JobID string
	Kind  model.JobKind
	Input model.GenerationRequest
}

// Asset is provider output: either a downloadable URL or inline bytes.
type Asset struct {
	URL         string
	Data        []byte
	ContentType string
}

// Submission is the result of Start. Handle is set by polling providers;
// Asset is set by providers that finish within the call.
type Submission struct {
	Handle string
	Asset  *Asset
}

type PollStatus string

const (
	PollRunning   PollStatus = "running"
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
)

type PollResult struct {
	Status   PollStatus
	Progress int
	Asset    *Asset
	Reason   string
}

// SynthesisProvider is the asynchronous capability port.
type SynthesisProvider interface {
	Provider
	Start(ctx context.Context, req SynthesisRequest) (Submission, error)
	Poll(ctx context.Context, handle string) (PollResult, error)
}
