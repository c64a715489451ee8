package synth

import (
	"context"
	"fmt"

	"cineai/internal/config"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
)

// Registered is one constructed provider with its enabled flag.
type Registered struct {
	Provider adapter.SynthesisProvider
	Enabled  bool
}

// Build constructs every provider listed for the asynchronous capabilities. A provider
// listed under several capabilities is built once.
func Build(ctx context.Context, cfg *config.Config) ([]Registered, error) {
	seen := map[string]bool{}
	var out []Registered
	for _, c := range model.Capabilities {
		if !c.Async() {
			continue
		}
		for _, id := range cfg.Order(c) {
			if seen[id] {
				continue
			}
			seen[id] = true
			pc := cfg.Providers[id]
			p, err := newProvider(ctx, id, pc)
			if err != nil {
				return nil, fmt.Errorf("%s provider %s: %w", c, id, err)
			}
			out = append(out, Registered{Provider: p, Enabled: pc.IsEnabled()})
		}
	}
	return out, nil
}

func newProvider(ctx context.Context, id string, pc config.ProviderConfig) (adapter.SynthesisProvider, error) {
	switch kind := pc.KindOr(id); kind {
	case "heygen":
		return NewHeyGen(id, pc.APIKey, pc.BaseURL, "", pc.Timeout), nil
	case "runway":
		return NewRunway(id, pc.APIKey, pc.BaseURL, pc.Model, pc.Timeout), nil
	case "veo":
		return NewVeo(ctx, id, pc.APIKey, pc.Model)
	case "elevenlabs":
		return NewElevenLabs(id, pc.APIKey, pc.BaseURL, pc.VoiceID, pc.Model, pc.Timeout), nil
	case "polly":
		return NewPolly(id, pc.Region, pc.VoiceID, pc.Model), nil
	case "composer":
		return NewComposer(id), nil
	case "simulated":
		return NewSimulated(id, 0), nil
	default:
		return nil, fmt.Errorf("unknown synthesis kind %q", kind)
	}
}
