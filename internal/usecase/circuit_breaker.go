package usecase

import (
	"sync"
	"time"

	"cineai/internal/domain/model"
	"cineai/internal/infra/metrics"
)

// BreakerConfig controls when a provider is taken out of rotation.
type BreakerConfig struct {
	Threshold int           // consecutive failures that open the circuit
	Cooldown  time.Duration // how long an open circuit skips the provider
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// circuitBreaker is the health state of one (capability, provider) pair.
type circuitBreaker struct {
	mu         sync.Mutex
	capability model.Capability
	provider   string
	cfg        BreakerConfig
	state      model.BreakerState
	failures   int
	openUntil  time.Time
	probing    bool
}

// allow reports whether a call may be attempted now. An open circuit whose cooldown
// elapsed moves to half-open and admits exactly one trial request.
func (b *circuitBreaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case model.BreakerOpen:
		if now.Before(b.openUntil) {
			return false
		}
		b.setState(model.BreakerHalfOpen)
		b.probing = true
		return true
	case model.BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *circuitBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.openUntil = time.Time{}
	b.setState(model.BreakerClosed)
}

// failure records one failed attempt. trip opens the circuit regardless of the streak.
func (b *circuitBreaker) failure(now time.Time, trip bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	wasTrial := b.state == model.BreakerHalfOpen
	b.probing = false
	if wasTrial || trip || b.failures >= b.cfg.Threshold {
		b.openUntil = now.Add(b.cfg.Cooldown)
		b.setState(model.BreakerOpen)
	}
}

// release gives back the trial slot when the attempt ended for reasons unrelated to the provider.
func (b *circuitBreaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *circuitBreaker) snapshot(now time.Time) (model.BreakerState, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == model.BreakerOpen && !now.Before(b.openUntil) {
		return model.BreakerHalfOpen, b.failures, b.openUntil
	}
	return b.state, b.failures, b.openUntil
}

// setState must be called with mu held.
func (b *circuitBreaker) setState(s model.BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	metrics.SetBreakerState(string(b.capability), b.provider, string(s))
}

// breakerSet owns one breaker per (capability, provider); the map lock is never held during a call.
type breakerSet struct {
	mu  sync.Mutex
	cfg BreakerConfig
	m   map[string]*circuitBreaker
}

func newBreakerSet(cfg BreakerConfig) *breakerSet {
	return &breakerSet{cfg: cfg.withDefaults(), m: make(map[string]*circuitBreaker)}
}

func (s *breakerSet) get(c model.Capability, provider string) *circuitBreaker {
	key := string(c) + "/" + provider
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		b = &circuitBreaker{capability: c, provider: provider, cfg: s.cfg, state: model.BreakerClosed}
		s.m[key] = b
	}
	return b
}
