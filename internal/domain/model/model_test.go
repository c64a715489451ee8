//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"cineai/internal/domain"
)

func TestNewJob(t *testing.T) {
	t.Parallel()

	t.Run("should create a pending job bound to the kind's capability", func(t *testing.T) {
		now := time.Now()
		j, err := NewJob("j1", JobKindScene, "scene-1", "u1", GenerationRequest{Prompt: "sunrise"}, now)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if j.State != JobPending {
			t.Errorf("expected pending, got %s", j.State)
		}
		if j.Capability != CapabilityVideo {
			t.Errorf("expected video-synthesis, got %s", j.Capability)
		}
	})

	t.Run("should reject a missing owner", func(t *testing.T) {
		_, err := NewJob("j1", JobKindAvatar, "", "u1", GenerationRequest{}, time.Now())
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should reject an unknown kind", func(t *testing.T) {
		_, err := NewJob("j1", JobKind("podcast"), "o1", "u1", GenerationRequest{}, time.Now())
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from, to JobState
		ok       bool
	}{
		{JobPending, JobDispatched, true},
		{JobPending, JobCompleted, true},
		{JobPending, JobFailed, true},
		{JobDispatched, JobCompleted, true},
		{JobDispatched, JobFailed, true},
		{JobDispatched, JobPending, false},
		{JobCompleted, JobFailed, false},
		{JobFailed, JobCompleted, false},
		{JobCompleted, JobCompleted, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("CanTransition(%s,%s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestJobClone_IsDeep(t *testing.T) {
	t.Parallel()
	now := time.Now()
	j, _ := NewJob("a", JobKindAssembly, "p1", "u1", GenerationRequest{SceneJobIDs: []string{"s1"}, Metadata: map[string]string{"k": "v"}}, now)
	j.DispatchedAt = &now

	cp := j.Clone()
	cp.Input.SceneJobIDs[0] = "changed"
	cp.Input.Metadata["k"] = "changed"
	*cp.DispatchedAt = now.Add(time.Hour)

	if j.Input.SceneJobIDs[0] != "s1" || j.Input.Metadata["k"] != "v" || !j.DispatchedAt.Equal(now) {
		t.Fatal("clone shares memory with the original job")
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()
	msgs := []Message{{Content: "1"}, {Content: "2"}, {Content: "3"}}

	if got := Window(msgs, 2); len(got) != 2 || got[0].Content != "2" || got[1].Content != "3" {
		t.Fatalf("expected last two messages oldest first, got %+v", got)
	}
	if got := Window(msgs, 10); len(got) != 3 {
		t.Fatalf("expected all messages, got %d", len(got))
	}
	if got := Window(msgs, 0); len(got) != 0 {
		t.Fatalf("expected none for zero limit, got %d", len(got))
	}
}

func TestParseCapability(t *testing.T) {
	t.Parallel()
	if c, err := ParseCapability(" Chat "); err != nil || c != CapabilityChat {
		t.Fatalf("expected chat, got %q %v", c, err)
	}
	if _, err := ParseCapability("music"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if CapabilityChat.Async() || !CapabilityVideo.Async() {
		t.Fatal("only chat is synchronous")
	}
}
