// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_transcript_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Webhook metrics
	WebhooksTotal *prometheus.CounterVec

	// Transcript metrics
	EntriesAppended prometheus.Counter
	BulkReplaces    prometheus.Counter

	// Dispatcher metrics
	Broadcasts       *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	PendingEntries   prometheus.Gauge

	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	Heartbeats      prometheus.Counter

	// Lifecycle metrics
	CallsSwept     prometheus.Counter
	ScheduledTasks prometheus.Gauge

	// Broker publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		WebhooksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Total number of provider webhooks received by outcome",
		}, []string{"outcome"}),

		EntriesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_appended_total",
			Help:      "Total number of transcript entries appended to call logs",
		}),
		BulkReplaces: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_replaces_total",
			Help:      "Total number of final transcript bulk replacements",
		}),

		Broadcasts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total number of broadcasts by outcome (delivered, deferred)",
		}, []string{"outcome"}),
		Retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_retries_total",
			Help:      "Total number of delayed broadcast retries by outcome",
		}, []string{"outcome"}),
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of messages handed to subscriber sessions",
		}, []string{"type"}),
		DeliveryFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Total number of failed deliveries that evicted a session",
		}, []string{"reason"}),
		PendingEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_entries",
			Help:      "Number of entries waiting for a first subscriber",
		}),

		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of subscriber sessions opened",
		}, []string{"transport"}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connected subscriber sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of subscriber sessions in seconds",
			Buckets:   []float64{1, 5, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		Heartbeats: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeats written to sessions",
		}),

		CallsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_swept_total",
			Help:      "Total number of call transcripts removed after completion",
		}),
		ScheduledTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_tasks",
			Help:      "Number of delayed tasks waiting to run",
		}),

		PublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Total number of broker messages published",
		}, []string{"sink", "topic"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of broker publish errors",
		}, []string{"sink", "topic"}),
		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Broker publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"sink"}),

		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordWebhook records an inbound webhook by outcome.
func (m *Metrics) RecordWebhook(outcome string) {
	m.WebhooksTotal.WithLabelValues(outcome).Inc()
}

// RecordAppend records entries appended to a call log.
func (m *Metrics) RecordAppend(n int) {
	m.EntriesAppended.Add(float64(n))
}

// RecordBulkReplace records a final transcript replacement.
func (m *Metrics) RecordBulkReplace() {
	m.BulkReplaces.Inc()
}

// RecordBroadcast records a broadcast outcome.
func (m *Metrics) RecordBroadcast(outcome string) {
	m.Broadcasts.WithLabelValues(outcome).Inc()
}

// RecordRetry records a delayed retry outcome.
func (m *Metrics) RecordRetry(outcome string) {
	m.Retries.WithLabelValues(outcome).Inc()
}

// RecordDelivery records a message accepted by a session.
func (m *Metrics) RecordDelivery(msgType string) {
	m.Deliveries.WithLabelValues(msgType).Inc()
}

// RecordDeliveryFailure records a session eviction.
func (m *Metrics) RecordDeliveryFailure(reason string) {
	m.DeliveryFailures.WithLabelValues(reason).Inc()
}

// SetPending records the number of entries waiting in pending queues.
func (m *Metrics) SetPending(n int) {
	m.PendingEntries.Set(float64(n))
}

// RecordSessionStart records a new subscriber session.
func (m *Metrics) RecordSessionStart(transport string) {
	m.SessionsTotal.WithLabelValues(transport).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a subscriber session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHeartbeat records a heartbeat written.
func (m *Metrics) RecordHeartbeat() {
	m.Heartbeats.Inc()
}

// RecordSweep records a call removed by the sweeper.
func (m *Metrics) RecordSweep() {
	m.CallsSwept.Inc()
}

// SetScheduledTasks records the number of pending delayed tasks.
func (m *Metrics) SetScheduledTasks(n int) {
	m.ScheduledTasks.Set(float64(n))
}

// RecordPublish records a broker publish attempt.
func (m *Metrics) RecordPublish(sink, topic string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(sink, topic).Inc()
	m.PublishLatency.WithLabelValues(sink).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(sink, topic).Inc()
	}
}

// RecordGRPC records a completed gRPC call.
func (m *Metrics) RecordGRPC(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
