package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Replay outcomes used as the "result" label.
const (
	resultSynced     = "synced"
	resultRetry      = "retry"
	resultDeadLetter = "dead_letter"
	resultSkipped    = "skipped"
)

// Metrics are the Prometheus series of the Sync Manager. They live in a
// private registry served by the status surface.
type Metrics struct {
	Registry *prometheus.Registry

	passes       *prometheus.CounterVec
	replayed     *prometheus.CounterVec
	passDuration prometheus.Histogram
	queueDepth   prometheus.Gauge
	deadLetters  prometheus.Gauge
	online       prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mittimoney_sync_passes_total",
				Help: "Sync passes by outcome.",
			},
			[]string{"outcome"},
		),
		replayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mittimoney_sync_entries_total",
				Help: "Replayed queue entries by collection and result.",
			},
			[]string{"collection", "result"},
		),
		passDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mittimoney_sync_pass_duration_seconds",
				Help:    "Duration of sync passes.",
				Buckets: prometheus.DefBuckets,
			},
		),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mittimoney_sync_queue_depth",
			Help: "Entries waiting for replay.",
		}),
		deadLetters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mittimoney_sync_dead_letters",
			Help: "Entries moved to the dead-letter table.",
		}),
		online: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mittimoney_sync_online",
			Help: "1 when the remote answered the last connectivity probe.",
		}),
	}
}

func (m *Metrics) observePass(outcome string, d time.Duration) {
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(d.Seconds())
}

func (m *Metrics) observeEntry(collection, result string) {
	m.replayed.WithLabelValues(collection, result).Inc()
}

func (m *Metrics) observeStatus(s Status) {
	m.queueDepth.Set(float64(s.PendingItems))
	m.deadLetters.Set(float64(s.DeadLetters))
	if s.Online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}
