package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dispatchAttemptsTotal, breakerState, dispatchExhaustedTotal) }

var (
	dispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Provider attempts made by the fallback dispatcher.",
		},
		[]string{"capability", "provider", "outcome"}, // 'success', 'failure', 'skipped'
	)

	dispatchExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_exhausted_total",
			Help: "Dispatches that ran out of providers.",
		},
		[]string{"capability"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		},
		[]string{"capability", "provider"},
	)
)

func IncDispatchAttempt(capability, provider, outcome string) {
	dispatchAttemptsTotal.WithLabelValues(norm(capability), norm(provider), norm(outcome)).Inc()
}

func IncDispatchExhausted(capability string) {
	dispatchExhaustedTotal.WithLabelValues(norm(capability)).Inc()
}

func SetBreakerState(capability, provider, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(norm(capability), norm(provider)).Set(v)
}
