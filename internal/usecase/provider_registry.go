package usecase

import (
	"fmt"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
)

// ProviderRegistry maps capabilities to their ordered provider lists.
// It is built once at startup and read concurrently afterwards.
type ProviderRegistry struct {
	order   map[model.Capability][]string
	chat    map[string]adapter.ChatProvider
	synth   map[string]adapter.SynthesisProvider
	enabled map[string]bool
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		order:   make(map[model.Capability][]string),
		chat:    make(map[string]adapter.ChatProvider),
		synth:   make(map[string]adapter.SynthesisProvider),
		enabled: make(map[string]bool),
	}
}

// SetOrder sets the fallback priority list for a capability.
func (r *ProviderRegistry) SetOrder(c model.Capability, ids []string) {
	r.order[c] = append([]string(nil), ids...)
}

func (r *ProviderRegistry) RegisterChat(p adapter.ChatProvider, enabled bool) {
	r.chat[p.ID()] = p
	r.enabled[p.ID()] = enabled
}

func (r *ProviderRegistry) RegisterSynthesis(p adapter.SynthesisProvider, enabled bool) {
	r.synth[p.ID()] = p
	r.enabled[p.ID()] = enabled
}

// Synthesis returns the provider that issued a handle.
func (r *ProviderRegistry) Synthesis(id string) (adapter.SynthesisProvider, bool) {
	p, ok := r.synth[id]
	return p, ok
}

// Order returns the configured priority list for a capability.
func (r *ProviderRegistry) Order(c model.Capability) []string {
	return r.order[c]
}

type candidate struct {
	id       string
	provider adapter.Provider
	enabled  bool
}

func (r *ProviderRegistry) candidates(c model.Capability) []candidate {
	ids := r.order[c]
	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		cand := candidate{id: id, enabled: r.enabled[id]}
		if c == model.CapabilityChat {
			if p, ok := r.chat[id]; ok {
				cand.provider = p
			}
		} else if p, ok := r.synth[id]; ok {
			cand.provider = p
		}
		out = append(out, cand)
	}
	return out
}

// Validate reports ordered ids that have no provider of the right shape.
func (r *ProviderRegistry) Validate() error {
	for c, ids := range r.order {
		for _, id := range ids {
			_, isChat := r.chat[id]
			_, isSynth := r.synth[id]
			if c == model.CapabilityChat && !isChat || c != model.CapabilityChat && !isSynth {
				return fmt.Errorf("%w: provider %q cannot serve %s", domain.ErrConfiguration, id, c)
			}
		}
	}
	return nil
}
