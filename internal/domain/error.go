package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")

	// Provider taxonomy
	ErrConfiguration     = errors.New("no provider configured for capability")
	ErrAuthentication    = errors.New("provider rejected credentials")
	ErrRateLimited       = errors.New("provider rate limited")
	ErrTimeout           = errors.New("provider timeout")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrProviderFailure   = errors.New("provider failure")
	ErrProviderRejected  = errors.New("provider rejected request")

	// Orchestration
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrDependencyFailed      = errors.New("dependency failed")
	ErrStaleJob              = errors.New("job exceeded maximum unresolved duration")
	ErrActiveSubmission      = errors.New("project already has an active submission")
	ErrStreamInterrupted     = errors.New("stream interrupted")
	ErrStaleState            = errors.New("job state changed concurrently")
	ErrInvalidTransition     = errors.New("invalid job state transition")
	ErrOverloaded            = errors.New("dispatch queue unavailable")

	// Storage
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
)

// ProviderError is a provider-level failure classified into the taxonomy above.
// Trip marks error classes that open the circuit immediately.
type ProviderError struct {
	Provider string
	Kind     error
	Status   int
	Trip     bool
	Msg      string
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Status > 0 {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Kind }

// NewProviderError builds a ProviderError; rate limits and credential failures trip the breaker.
func NewProviderError(provider string, kind error, status int, msg string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Status:   status,
		Trip:     errors.Is(kind, ErrRateLimited) || errors.Is(kind, ErrAuthentication),
		Msg:      msg,
	}
}

// Attempt records the outcome of one provider during a dispatch.
type Attempt struct {
	Provider string `json:"provider"`
	Skipped  bool   `json:"skipped,omitempty"`
	Err      string `json:"error"`
}

// ExhaustedError names every provider that was tried or skipped for a capability.
type ExhaustedError struct {
	Capability string
	Attempts   []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Provider+": "+a.Err)
	}
	return fmt.Sprintf("%s: %s [%s]", ErrAllProvidersExhausted, e.Capability, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllProvidersExhausted }

// Code maps an error onto the stable code stored on jobs and returned by the API.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrAllProvidersExhausted):
		return "all_providers_exhausted"
	case errors.Is(err, ErrDependencyFailed):
		return "dependency_failed"
	case errors.Is(err, ErrStaleJob):
		return "stale_job"
	case errors.Is(err, ErrAuthentication):
		return "authentication_error"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrStreamInterrupted):
		return "stream_interrupted"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrActiveSubmission):
		return "active_submission"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	default:
		return "provider_failure"
	}
}
