package model

import (
	"fmt"
	"strings"
	"time"

	"cineai/internal/domain"
)

type JobState string

const (
	JobPending    JobState = "pending"
	JobDispatched JobState = "dispatched"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// NonTerminalStates are the states the reconcile loop and recovery scan for.
var NonTerminalStates = []JobState{JobPending, JobDispatched}

func (s JobState) Terminal() bool { return s == JobCompleted || s == JobFailed }

type JobKind string

const (
	JobKindAvatar   JobKind = "avatar"
	JobKindScene    JobKind = "scene"
	JobKindVoice    JobKind = "voice"
	JobKindAssembly JobKind = "project-assembly"
)

// Capability returns the capability whose providers execute jobs of this kind.
func (k JobKind) Capability() Capability {
	switch k {
	case JobKindAvatar:
		return CapabilityAvatar
	case JobKindVoice:
		return CapabilityVoice
	case JobKindAssembly:
		return CapabilityAssembly
	default:
		return CapabilityVideo
	}
}

// AssetCategory is the file store category for assets produced by this kind.
func (k JobKind) AssetCategory() string {
	switch k {
	case JobKindAvatar:
		return "avatars"
	case JobKindVoice:
		return "voices"
	case JobKindAssembly:
		return "videos"
	default:
		return "scenes"
	}
}

// GenerationRequest is the provider-agnostic payload persisted with a job.
type GenerationRequest struct {
	Prompt      string            `json:"prompt,omitempty"`
	Script      string            `json:"script,omitempty"`
	Model       string            `json:"model,omitempty"`
	AvatarID    string            `json:"avatar_id,omitempty"`
	VoiceID     string            `json:"voice_id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	PhotoURLs   []string          `json:"photo_urls,omitempty"`
	Quality     string            `json:"quality,omitempty"`
	DurationSec int               `json:"duration_sec,omitempty"`
	Resolution  string            `json:"resolution,omitempty"`
	Order       int               `json:"order,omitempty"`
	SceneJobIDs []string          `json:"scene_job_ids,omitempty"`
	Assets      []string          `json:"assets,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Job is the tracked unit of asynchronous generation work.
type Job struct {
	ID             string
	Kind           JobKind
	Capability     Capability
	OwnerID        string
	UserID         string
	State          JobState
	ProviderID     string
	ExternalHandle string
	Input          GenerationRequest
	AssetRef       string
	Progress       int
	ErrorCode      string
	LastError      string
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DispatchedAt   *time.Time
	FinishedAt     *time.Time
}

func NewJob(id string, kind JobKind, ownerID, userID string, input GenerationRequest, now time.Time) (*Job, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: job id and owner are required", domain.ErrInvalidArgument)
	}
	switch kind {
	case JobKindAvatar, JobKindScene, JobKindVoice, JobKindAssembly:
	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, kind)
	}
	return &Job{
		ID:         id,
		Kind:       kind,
		Capability: kind.Capability(),
		OwnerID:    ownerID,
		UserID:     userID,
		State:      JobPending,
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobPending:
		return to == JobDispatched || to == JobCompleted || to == JobFailed
	case JobDispatched:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Input.PhotoURLs = append([]string(nil), j.Input.PhotoURLs...)
	cp.Input.SceneJobIDs = append([]string(nil), j.Input.SceneJobIDs...)
	cp.Input.Assets = append([]string(nil), j.Input.Assets...)
	if j.Input.Metadata != nil {
		cp.Input.Metadata = make(map[string]string, len(j.Input.Metadata))
		for k, v := range j.Input.Metadata {
			cp.Input.Metadata[k] = v
		}
	}
	if j.DispatchedAt != nil {
		t := *j.DispatchedAt
		cp.DispatchedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// JobStatus is the read model returned by getJobStatus.
type JobStatus struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	OwnerID    string    `json:"owner_id"`
	State      JobState  `json:"state"`
	Progress   int       `json:"progress"`
	ProviderID string    `json:"provider_id,omitempty"`
	AssetRef   string    `json:"asset_ref,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Attempts   int       `json:"attempts"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (j *Job) Status() JobStatus {
	return JobStatus{
		ID:         j.ID,
		Kind:       j.Kind,
		OwnerID:    j.OwnerID,
		State:      j.State,
		Progress:   j.Progress,
		ProviderID: j.ProviderID,
		AssetRef:   j.AssetRef,
		Error:      j.LastError,
		ErrorCode:  j.ErrorCode,
		Attempts:   j.Attempts,
		UpdatedAt:  j.UpdatedAt,
	}
}

// JobTransition is emitted after every persisted state change.
type JobTransition struct {
	Job  *Job
	From JobState
	To   JobState
}
