package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	chatRequestsTotal   *prometheus.CounterVec
	routeDecisionsTotal *prometheus.CounterVec
	retrievalHitTotal   *prometheus.CounterVec
	noContextTotal      *prometheus.CounterVec
	retrievedSources    *prometheus.HistogramVec
	chatDuration        *prometheus.HistogramVec
	chartsTotal         *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragchat",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total successful chat requests by answering engine.",
		},
		[]string{"service", "engine"},
	)
	routeDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "route_decisions_total",
			Help:      "Routing decisions by engine and reason.",
		},
		[]string{"service", "engine", "reason"},
	)
	retrievalHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "retrieval_hit_total",
			Help:      "Total chat requests answered with at least one source.",
		},
		[]string{"service", "engine"},
	)
	noContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "no_context_total",
			Help:      "Total chat requests answered without sources.",
		},
		[]string{"service", "engine"},
	)
	retrievedSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "retrieved_sources",
			Help:      "Distribution of cited sources per successful chat request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "engine"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "End-to-end chat pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "engine"},
	)
	chartsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "charts_total",
			Help:      "Total chart artifacts returned by statistics answers.",
		},
		[]string{"service"},
	)
	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		chatRequestsTotal,
		routeDecisionsTotal,
		retrievalHitTotal,
		noContextTotal,
		retrievedSources,
		chatDuration,
		chartsTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		chatRequestsTotal:   chatRequestsTotal,
		routeDecisionsTotal: routeDecisionsTotal,
		retrievalHitTotal:   retrievalHitTotal,
		noContextTotal:      noContextTotal,
		retrievedSources:    retrievedSources,
		chatDuration:        chatDuration,
		chartsTotal:         chartsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/users/"):
		return "/users/{user_name}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordChatObservation(service, engine string, sourceCount, chartCount int, duration time.Duration) {
	if engine == "" {
		engine = "unknown"
	}
	m.chatRequestsTotal.WithLabelValues(service, engine).Inc()
	m.retrievedSources.WithLabelValues(service, engine).Observe(float64(sourceCount))
	m.chatDuration.WithLabelValues(service, engine).Observe(duration.Seconds())
	if chartCount > 0 {
		m.chartsTotal.WithLabelValues(service).Add(float64(chartCount))
	}

	if sourceCount > 0 {
		m.retrievalHitTotal.WithLabelValues(service, engine).Inc()
		return
	}
	m.noContextTotal.WithLabelValues(service, engine).Inc()
}

func (m *HTTPServerMetrics) RecordRouteDecision(service, engine, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.routeDecisionsTotal.WithLabelValues(service, engine, reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
