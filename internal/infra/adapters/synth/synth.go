// Package synth holds the synthesis providers behind adapter.SynthesisProvider:
// avatar, voice, video and project assembly.
package synth

import (
	"strings"

	"cineai/internal/domain/ports/adapter"
)

// pollStatus maps a vendor status string onto the three poll outcomes.
func pollStatus(s string) adapter.PollStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "succeeded", "success", "done":
		return adapter.PollSucceeded
	case "failed", "error", "cancelled", "canceled":
		return adapter.PollFailed
	default:
		return adapter.PollRunning
	}
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
