package leaderboard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"duelkit/core"
)

// Metrics exposes cache behaviour to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	recomputeDuration *prometheus.HistogramVec
	recomputes        *prometheus.CounterVec
	reads             *prometheus.CounterVec
	entries           *prometheus.GaugeVec
	population        *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		recomputeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duelkit",
			Subsystem: "leaderboard",
			Name:      "recompute_duration_seconds",
			Help:      "Time spent rebuilding a leaderboard snapshot.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"counter"}),
		recomputes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelkit",
			Subsystem: "leaderboard",
			Name:      "recomputes_total",
			Help:      "Leaderboard rebuilds by outcome.",
		}, []string{"counter", "result"}),
		reads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelkit",
			Subsystem: "leaderboard",
			Name:      "reads_total",
			Help:      "Leaderboard reads by returned status.",
		}, []string{"counter", "status"}),
		entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "duelkit",
			Subsystem: "leaderboard",
			Name:      "snapshot_entries",
			Help:      "Rows in the installed snapshot.",
		}, []string{"counter"}),
		population: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "duelkit",
			Subsystem: "leaderboard",
			Name:      "population",
			Help:      "Users scanned by the last successful rebuild.",
		}, []string{"counter"}),
	}
}

func (m *Metrics) observeRead(c core.Counter, s core.Status) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(string(c), s.String()).Inc()
}

func (m *Metrics) observeRecompute(c core.Counter, took time.Duration, snap *Snapshot, err error) {
	if m == nil {
		return
	}
	m.recomputeDuration.WithLabelValues(string(c)).Observe(took.Seconds())
	if err != nil {
		m.recomputes.WithLabelValues(string(c), "error").Inc()
		return
	}
	m.recomputes.WithLabelValues(string(c), "ok").Inc()
	m.entries.WithLabelValues(string(c)).Set(float64(len(snap.Entries)))
	m.population.WithLabelValues(string(c)).Set(float64(snap.Population))
}
