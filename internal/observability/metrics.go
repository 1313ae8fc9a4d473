// Package observability exposes the gateway's Prometheus metrics.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "avr_sts"

type moduleMetrics struct {
	activeSessions *prometheus.GaugeVec
	sessionsTotal  prometheus.Counter

	clientMessages *prometheus.CounterVec
	backendEvents  *prometheus.CounterVec
	framesEmitted  *prometheus.CounterVec
	droppedAudio   prometheus.Counter

	backendConnect  *prometheus.HistogramVec
	resolverErrors  *prometheus.CounterVec
	toolExecutions  *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	sessionDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Client connections by session state.",
				},
				[]string{"state"},
			),
			sessionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_total",
					Help:      "Total client connections accepted.",
				},
			),
			clientMessages: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "client_messages_total",
					Help:      "Client messages received by type.",
				},
				[]string{"type"},
			),
			backendEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "backend_events_total",
					Help:      "Backend events received by type.",
				},
				[]string{"type"},
			),
			framesEmitted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "frames_emitted_total",
					Help:      "20 ms telephony frames sent to clients by kind (audio, silence).",
				},
				[]string{"kind"},
			),
			droppedAudio: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dropped_audio_messages_total",
					Help:      "Client audio messages dropped because the backend was not streaming.",
				},
			),
			backendConnect: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "backend_connect_duration_seconds",
					Help:      "Backend dial duration in seconds by status.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			resolverErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "resolver_errors_total",
					Help:      "Collaborator lookups that fell back to defaults, by resolver.",
				},
				[]string{"resolver"},
			),
			toolExecutions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_executions_total",
					Help:      "Tool executions by tool, tier and status.",
				},
				[]string{"tool", "tier", "status"},
			),
			toolDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			sessionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_duration_seconds",
					Help:      "Client connection lifetime in seconds.",
					Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsTotal,
			m.clientMessages,
			m.backendEvents,
			m.framesEmitted,
			m.droppedAudio,
			m.backendConnect,
			m.resolverErrors,
			m.toolExecutions,
			m.toolDuration,
			m.sessionDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordSessionStart() {
	m := getMetrics()
	m.sessionsTotal.Inc()
}

// RecordStateChange moves one session between state gauges. An empty from
// only increments, an empty to only decrements.
func RecordStateChange(from, to string) {
	m := getMetrics()
	if from != "" {
		m.activeSessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.activeSessions.WithLabelValues(to).Inc()
	}
}

func RecordSessionEnd(duration time.Duration) {
	m := getMetrics()
	m.sessionDuration.Observe(duration.Seconds())
}

func RecordClientMessage(msgType string) {
	m := getMetrics()
	m.clientMessages.WithLabelValues(msgType).Inc()
}

func RecordBackendEvent(eventType string) {
	m := getMetrics()
	m.backendEvents.WithLabelValues(eventType).Inc()
}

func RecordFrames(kind string, n int) {
	if n <= 0 {
		return
	}
	m := getMetrics()
	m.framesEmitted.WithLabelValues(kind).Add(float64(n))
}

func RecordDroppedAudio() {
	m := getMetrics()
	m.droppedAudio.Inc()
}

func RecordBackendConnect(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.backendConnect.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordResolverError(resolver string) {
	m := getMetrics()
	m.resolverErrors.WithLabelValues(resolver).Inc()
}

func RecordToolExecution(tool, tier string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutions.WithLabelValues(tool, tier, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
