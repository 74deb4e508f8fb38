// Package metrics exposes Prometheus instrumentation for the engine.
// Clean Architecture: Framework/driver layer; the domain stays unaware of
// Prometheus - the HTTP layer counts what it observes and gauges poll the
// engines' stats methods.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoundsStarted counts rounds opened.
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "covermind_rounds_started_total",
		Help: "Rounds started.",
	})

	// RoundsTerminated counts rounds by terminal status.
	RoundsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "covermind_rounds_terminated_total",
		Help: "Rounds terminated, by status.",
	}, []string{"status"})

	// Guesses counts guess submissions by result.
	Guesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "covermind_guesses_total",
		Help: "Guess submissions, by result (matched, strike, rejected).",
	}, []string{"result"})

	// GuessLatency observes end-to-end guess evaluation time, including the
	// validator and embedder round trips.
	GuessLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "covermind_guess_seconds",
		Help:    "Guess evaluation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

// RegisterEngineStats registers gauges polling live engine state.
func RegisterEngineStats(activeRounds func() int, evictions func() uint64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "covermind_rounds_in_memory",
		Help: "Rounds currently held in memory.",
	}, func() float64 { return float64(activeRounds()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "covermind_answers_evicted_total",
		Help: "Answers deactivated by corpus eviction.",
	}, func() float64 { return float64(evictions()) })
}
