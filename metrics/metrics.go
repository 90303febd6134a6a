// Package metrics exposes the core's Prometheus instrumentation. Every
// component that observes a domain event takes a *Metrics and records on
// one of its collectors; there is no package-level registry or singleton.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the matchmaking core emits to.
type Metrics struct {
	QueueDepth    *prometheus.GaugeVec
	PollTicks     prometheus.Counter
	MatchesFormed prometheus.Counter
	BindConflicts prometheus.Counter
	WaitSeconds   prometheus.Histogram
	RatingDelta   prometheus.Histogram
}

// New registers and returns a fresh collector set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "matchcore",
			Name:      "queue_depth",
			Help:      "Number of tickets currently WAITING, by area.",
		}, []string{"area"}),
		PollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "engine_poll_ticks_total",
			Help:      "Total poll iterations executed by the matchmaker engine.",
		}),
		MatchesFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "matches_formed_total",
			Help:      "Total matches successfully bound.",
		}),
		BindConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "bind_conflicts_total",
			Help:      "Total try_bind attempts that lost a race.",
		}),
		WaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "matchcore",
			Name:      "ticket_wait_seconds",
			Help:      "Elapsed wait time of a ticket at its terminal transition.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		RatingDelta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "matchcore",
			Name:      "rating_delta",
			Help:      "Absolute rating change applied by a finished match.",
			Buckets:   prometheus.LinearBuckets(0, 4, 10),
		}),
	}

	reg.MustRegister(m.QueueDepth, m.PollTicks, m.MatchesFormed, m.BindConflicts, m.WaitSeconds, m.RatingDelta)
	return m
}
