package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records job activity in Prometheus
type Metrics struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	running  prometheus.Gauge
}

// NewMetrics creates the job collectors and registers them with reg.
// A nil registerer leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layerwise_jobs_started_total",
			Help: "Total number of rebalancer jobs submitted",
		}),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layerwise_jobs_finished_total",
				Help: "Total number of rebalancer jobs finished, by status",
			},
			[]string{"status"},
		),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "layerwise_jobs_running",
			Help: "Number of rebalancer jobs currently running",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.started, m.finished, m.running)
	}
	return m
}

func (m *Metrics) recordStarted() {
	m.started.Inc()
}

func (m *Metrics) recordRunning(delta float64) {
	m.running.Add(delta)
}

func (m *Metrics) recordFinished(status Status) {
	m.finished.WithLabelValues(string(status)).Inc()
}
