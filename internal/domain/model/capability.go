package model

import (
	"fmt"
	"strings"

	"cineai/internal/domain"
)

// Capability is a category of generation work with its own provider priority list.
type Capability string

const (
	CapabilityChat     Capability = "chat"
	CapabilityAvatar   Capability = "avatar-synthesis"
	CapabilityVoice    Capability = "voice-synthesis"
	CapabilityVideo    Capability = "video-synthesis"
	CapabilityAssembly Capability = "project-assembly"
)

// Capabilities lists every capability in a stable order.
var Capabilities = []Capability{CapabilityChat, CapabilityAvatar, CapabilityVoice, CapabilityVideo, CapabilityAssembly}

// Async reports whether jobs of this capability are tracked through JobTracker.
func (c Capability) Async() bool {
	return c != CapabilityChat
}

func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Capabilities {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown capability %q", domain.ErrInvalidArgument, s)
}

// BreakerState is the circuit state of one provider.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)
