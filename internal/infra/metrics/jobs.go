package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobTransitionsTotal, reconcilePollsTotal, reconcileTickSeconds) }

var (
	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_transitions_total",
			Help: "Total number of job state transitions, labeled by kind and target state.",
		},
		[]string{"kind", "state"},
	)

	reconcilePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_polls_total",
			Help: "Polls issued by the reconcile loop.",
		},
		[]string{"provider", "result"}, // 'running', 'succeeded', 'failed', 'error', 'stale'
	)

	reconcileTickSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_tick_seconds",
			Help:    "Duration of one reconcile pass.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func IncJobTransition(kind, state string) {
	jobTransitionsTotal.WithLabelValues(norm(kind), norm(state)).Inc()
}

func IncReconcilePoll(provider, result string) {
	reconcilePollsTotal.WithLabelValues(norm(provider), norm(result)).Inc()
}

func ObserveReconcileTick(seconds float64) {
	reconcileTickSeconds.Observe(seconds)
}
