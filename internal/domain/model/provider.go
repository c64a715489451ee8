package model

import "time"

// ProviderStatus is the externally visible view of one provider for a capability.
type ProviderStatus struct {
	ProviderID string       `json:"provider_id"`
	Capability Capability   `json:"capability"`
	Available  bool         `json:"available"`
	Enabled    bool         `json:"enabled"`
	Healthy    bool         `json:"healthy"`
	State      BreakerState `json:"state"`
	Failures   int          `json:"consecutive_failures"`
	OpenUntil  *time.Time   `json:"open_until,omitempty"`
}
