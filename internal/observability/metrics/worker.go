package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	persistTotal    *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	persistInFlight prometheus.Gauge
	sweepTotal      *prometheus.CounterVec
	sweptSessions   prometheus.Counter
	queueLag        prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	persistTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "worker",
			Name:      "turn_persist_total",
			Help:      "Total conversation turns persisted, by status.",
		},
		[]string{"service", "status"},
	)
	persistDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "worker",
			Name:      "turn_persist_duration_seconds",
			Help:      "Turn persistence duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	persistInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragchat",
			Subsystem: "worker",
			Name:      "turns_in_flight",
			Help:      "Number of turns currently being persisted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	sweepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "worker",
			Name:      "memory_sweeps_total",
			Help:      "Total memory TTL sweep runs, by status.",
		},
		[]string{"service", "status"},
	)
	sweptSessions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "worker",
			Name:      "memory_swept_turns_total",
			Help:      "Total expired memory turns removed by TTL sweeps.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between turn publication and worker pickup.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		persistTotal,
		persistDuration,
		persistInFlight,
		sweepTotal,
		sweptSessions,
		queueLag,
	)

	return &WorkerMetrics{
		registry:        registry,
		persistTotal:    persistTotal,
		persistDuration: persistDuration,
		persistInFlight: persistInFlight,
		sweepTotal:      sweepTotal,
		sweptSessions:   sweptSessions,
		queueLag:        queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartTurn marks a turn as in flight and returns a finish callback
// that records the outcome and duration.
func (m *WorkerMetrics) StartTurn(service string) func(status string) {
	start := time.Now()
	m.persistInFlight.Inc()

	return func(status string) {
		m.persistInFlight.Dec()
		m.persistTotal.WithLabelValues(service, status).Inc()
		m.persistDuration.WithLabelValues(service, status).Observe(time.Since(start).Seconds())
	}
}

func (m *WorkerMetrics) RecordSweep(service, status string, removed int) {
	m.sweepTotal.WithLabelValues(service, status).Inc()
	if removed > 0 {
		m.sweptSessions.Add(float64(removed))
	}
}

func (m *WorkerMetrics) ObserveQueueLag(publishedAt time.Time) {
	if publishedAt.IsZero() {
		return
	}
	lag := time.Since(publishedAt).Seconds()
	if lag < 0 {
		lag = 0
	}
	m.queueLag.Observe(lag)
}
