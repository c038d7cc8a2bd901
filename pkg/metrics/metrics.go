package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	metricsEnabled = true

	// Session metrics
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioChunksReceived prometheus.Counter
	AudioChunksDropped  prometheus.Counter
	AudioBytesReceived  prometheus.Counter

	// Transcription metrics
	TranscriptsPartial *prometheus.CounterVec
	TranscriptsFinal   *prometheus.CounterVec
	STTStreamErrors    *prometheus.CounterVec

	// Suggestion metrics
	SuggestionRequests prometheus.Counter
	SuggestionErrors   prometheus.Counter
	SuggestionLatency  prometheus.Histogram

	// Transport metrics
	TransportReconnects prometheus.Counter
	TransportDropped    prometheus.Counter

	// Delivery metrics
	TranscriptsPublished prometheus.Counter
	PublishErrors        prometheus.Counter
)

// EnableMetrics toggles metric collection globally. Tests disable it so
// package init order does not matter.
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// Enabled reports whether metric collection is active.
func Enabled() bool {
	return metricsEnabled
}

// Init registers all collectors. Safe to call more than once.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsStarted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_sessions_started_total",
				Help: "Total number of coaching sessions started",
			},
			[]string{"method"},
		)
		SessionsEnded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_sessions_ended_total",
				Help: "Total number of coaching sessions ended",
			},
			[]string{"reason"},
		)
		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coach_sessions_active",
				Help: "Number of currently active sessions",
			},
		)
		SessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coach_session_duration_seconds",
				Help:    "Duration of completed sessions",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		)

		AudioChunksReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_audio_chunks_received_total",
				Help: "Total audio chunks accepted by the coordinator",
			},
		)
		AudioChunksDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_audio_chunks_dropped_total",
				Help: "Audio chunks ignored because no live session matched",
			},
		)
		AudioBytesReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_audio_bytes_received_total",
				Help: "Total decoded PCM bytes received",
			},
		)

		TranscriptsPartial = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_transcripts_partial_total",
				Help: "Partial transcription results by provider",
			},
			[]string{"provider"},
		)
		TranscriptsFinal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_transcripts_final_total",
				Help: "Final transcription results by provider",
			},
			[]string{"provider"},
		)
		STTStreamErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_stt_stream_errors_total",
				Help: "Streaming transcription errors by provider",
			},
			[]string{"provider"},
		)

		SuggestionRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_suggestion_requests_total",
				Help: "Completion-service requests issued",
			},
		)
		SuggestionErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_suggestion_errors_total",
				Help: "Completion-service requests that failed",
			},
		)
		SuggestionLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coach_suggestion_latency_seconds",
				Help:    "Completion-service round trip latency",
				Buckets: prometheus.DefBuckets,
			},
		)

		TransportReconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_transport_reconnects_total",
				Help: "Channel reconnect attempts after unexpected close",
			},
		)
		TransportDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_transport_dropped_sends_total",
				Help: "Messages dropped because the channel was not open",
			},
		)

		TranscriptsPublished = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_transcripts_published_total",
				Help: "Completed transcripts published to the delivery queue",
			},
		)
		PublishErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_publish_errors_total",
				Help: "Failed transcript publishes",
			},
		)

		registry.MustRegister(
			SessionsStarted, SessionsEnded, SessionsActive, SessionDuration,
			AudioChunksReceived, AudioChunksDropped, AudioBytesReceived,
			TranscriptsPartial, TranscriptsFinal, STTStreamErrors,
			SuggestionRequests, SuggestionErrors, SuggestionLatency,
			TransportReconnects, TransportDropped,
			TranscriptsPublished, PublishErrors,
		)

		logger.Info("Prometheus metrics registered")
	})
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncCounter increments a plain counter if metrics are enabled and initialized.
func IncCounter(c prometheus.Counter) {
	if metricsEnabled && c != nil {
		c.Inc()
	}
}

// AddCounter adds to a plain counter if metrics are enabled.
func AddCounter(c prometheus.Counter, v float64) {
	if metricsEnabled && c != nil {
		c.Add(v)
	}
}

// IncCounterVec increments a labeled counter if metrics are enabled.
func IncCounterVec(c *prometheus.CounterVec, labels ...string) {
	if metricsEnabled && c != nil {
		c.WithLabelValues(labels...).Inc()
	}
}

// SetGauge sets a gauge if metrics are enabled.
func SetGauge(g prometheus.Gauge, v float64) {
	if metricsEnabled && g != nil {
		g.Set(v)
	}
}

// AddGauge adds to a gauge if metrics are enabled.
func AddGauge(g prometheus.Gauge, v float64) {
	if metricsEnabled && g != nil {
		g.Add(v)
	}
}

// ObserveHistogram records an observation if metrics are enabled.
func ObserveHistogram(h prometheus.Histogram, v float64) {
	if metricsEnabled && h != nil {
		h.Observe(v)
	}
}
