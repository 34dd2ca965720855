// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcription_bridge"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsClosed  prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio pass-through metrics
	FramesForwarded     prometheus.Counter
	FramesDropped       *prometheus.CounterVec
	AudioBytesForwarded prometheus.Counter

	// Provider event metrics
	TurnEventsReceived *prometheus.CounterVec
	EntriesProduced    prometheus.Counter
	ProviderErrors     prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active transcription sessions",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions closed normally",
		}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of failed sessions",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcription sessions in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),

		FramesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Total audio frames forwarded to the provider",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total audio frames dropped (pre-readiness or during teardown)",
		}, []string{"reason"}),
		AudioBytesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_forwarded_total",
			Help:      "Total audio bytes forwarded to the provider",
		}),

		TurnEventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_events_received_total",
			Help:      "Total provider events received, by type",
		}, []string{"type"}),
		EntriesProduced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_produced_total",
			Help:      "Total finalized transcript entries produced",
		}),
		ProviderErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total fatal provider-side errors",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total Kafka publish attempts",
		}, []string{"topic", "eventType"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total Kafka publish failures",
		}, []string{"topic", "eventType"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Latency of Kafka publishes in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

// RecordSessionStart tracks a new session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd tracks session completion or failure.
func (m *Metrics) RecordSessionEnd(failReason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
	if failReason == "" {
		m.SessionsClosed.Inc()
	} else {
		m.SessionsFailed.WithLabelValues(failReason).Inc()
	}
}

// RecordFrameForwarded tracks one pass-through frame.
func (m *Metrics) RecordFrameForwarded(bytes int) {
	m.FramesForwarded.Inc()
	m.AudioBytesForwarded.Add(float64(bytes))
}

// RecordFrameDropped tracks a silently dropped frame.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordTurnEvent tracks one provider event by type.
func (m *Metrics) RecordTurnEvent(eventType string) {
	m.TurnEventsReceived.WithLabelValues(eventType).Inc()
}

// RecordKafkaPublish tracks a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, seconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(seconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
