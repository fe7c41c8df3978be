package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	DetectionEvents *prometheus.CounterVec
	IngestRejects   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	FanoutDropped   *prometheus.CounterVec
	AuditWrites     *prometheus.CounterVec
	IngestLatency   prometheus.Histogram

	stages *stageWindow
}

// NewMetrics registers on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of monitored sessions in the active state.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle transitions by type.",
		}, []string{"event"}),
		DetectionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_events_total",
			Help:      "Accepted detection events by kind and severity.",
		}, []string{"kind", "severity"}),
		IngestRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejections_total",
			Help:      "Rejected ingestion attempts by reason.",
		}, []string{"reason"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FanoutDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "Fan-out messages dropped by reason.",
		}, []string{"reason"}),
		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit mirror writes by sink and outcome.",
		}, []string{"sink", "outcome"}),
		IngestLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_latency_ms",
			Help:      "Latency of validated append+score in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// AdjustActiveSessions moves the gauge by delta on each lifecycle
// transition, after SetActiveSessions has seeded it.
func (m *Metrics) AdjustActiveSessions(delta int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(float64(delta))
}

func (m *Metrics) DetectionAccepted(kind, severity string) {
	if m == nil {
		return
	}
	m.DetectionEvents.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) IngestRejected(reason string) {
	if m == nil {
		return
	}
	m.IngestRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) FanoutDrop(reason string) {
	if m == nil {
		return
	}
	m.FanoutDropped.WithLabelValues(reason).Inc()
	m.stages.ObserveIndicator("fanout_drop_" + reason)
}

func (m *Metrics) AuditWrite(sink, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditWrites.WithLabelValues(sink, outcome).Add(float64(n))
}

func (m *Metrics) ObserveIngestLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.IngestLatency.Observe(float64(d.Microseconds()) / 1000)
	m.stages.Observe(StageIngest, d)
}

// ObserveStage records a pipeline stage latency in the rolling window served
// by the perf endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, d)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsHandlerFor serves a specific registry, used by tests.
func MetricsHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
