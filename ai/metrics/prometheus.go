// Package metrics provides Prometheus metrics export for the reply pipeline.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Discard reasons.
const (
	DiscardUnmonitored = "unmonitored"
	DiscardSelf        = "self"
	DiscardDuplicate   = "duplicate"
	DiscardStale       = "stale"
)

// Processing outcomes.
const (
	OutcomeReplied      = "replied"
	OutcomePersistError = "persist_error"
	OutcomeSkipped      = "skipped"
	OutcomeError        = "error"
)

// PrometheusExporter exports pipeline metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Monitor metrics
	fetched      prometheus.Counter
	fetchErrors  prometheus.Counter
	enqueued     prometheus.Counter
	discarded    *prometheus.CounterVec
	monitorState *prometheus.GaugeVec

	// Queue metrics
	queueDepth prometheus.Gauge

	// Processor metrics
	processed    *prometheus.CounterVec
	replies      *prometheus.CounterVec
	replyLatency *prometheus.HistogramVec

	// LLM token metrics
	llmTokensUsed *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.fetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replybridge",
		Subsystem: "monitor",
		Name:      "messages_fetched_total",
		Help:      "Total number of raw messages returned by the automation bridge",
	})

	e.fetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replybridge",
		Subsystem: "monitor",
		Name:      "fetch_errors_total",
		Help:      "Total number of failed next-message fetches",
	})

	e.enqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replybridge",
		Subsystem: "monitor",
		Name:      "messages_enqueued_total",
		Help:      "Total number of messages pushed onto the queue",
	})

	e.discarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replybridge",
			Subsystem: "monitor",
			Name:      "messages_discarded_total",
			Help:      "Total number of messages dropped before processing",
		},
		[]string{"reason"},
	)

	e.monitorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replybridge",
			Subsystem: "monitor",
			Name:      "state",
			Help:      "Current monitor loop state (1 for the active state)",
		},
		[]string{"state"},
	)

	e.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "replybridge",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of messages waiting in the queue",
	})

	e.processed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replybridge",
			Subsystem: "processor",
			Name:      "messages_processed_total",
			Help:      "Total number of dequeued messages by outcome",
		},
		[]string{"outcome"},
	)

	e.replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replybridge",
			Subsystem: "processor",
			Name:      "replies_total",
			Help:      "Total number of replies by source and delivery mode",
		},
		[]string{"source", "mode"},
	)

	e.replyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "replybridge",
			Subsystem: "processor",
			Name:      "reply_latency_seconds",
			Help:      "Reply generation latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"source"},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replybridge",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	registry.MustRegister(
		e.fetched,
		e.fetchErrors,
		e.enqueued,
		e.discarded,
		e.monitorState,
		e.queueDepth,
		e.processed,
		e.replies,
		e.replyLatency,
		e.llmTokensUsed,
	)

	return e
}

// RecordFetched records messages returned by one fetch.
func (e *PrometheusExporter) RecordFetched(count int) {
	e.fetched.Add(float64(count))
}

// RecordFetchError records a failed fetch.
func (e *PrometheusExporter) RecordFetchError() {
	e.fetchErrors.Inc()
}

// RecordEnqueued records one message pushed onto the queue.
func (e *PrometheusExporter) RecordEnqueued() {
	e.enqueued.Inc()
}

// RecordDiscarded records a dropped message.
func (e *PrometheusExporter) RecordDiscarded(reason string) {
	e.discarded.WithLabelValues(reason).Inc()
}

// SetMonitorState marks state as the current monitor loop state.
func (e *PrometheusExporter) SetMonitorState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		e.monitorState.WithLabelValues(s).Set(v)
	}
}

// SetQueueDepth sets the number of waiting messages.
func (e *PrometheusExporter) SetQueueDepth(depth int) {
	e.queueDepth.Set(float64(depth))
}

// RecordProcessed records the outcome of one dequeued message.
func (e *PrometheusExporter) RecordProcessed(outcome string) {
	e.processed.WithLabelValues(outcome).Inc()
}

// RecordReply records a delivered or stored reply.
func (e *PrometheusExporter) RecordReply(source, mode string, latency time.Duration) {
	e.replies.WithLabelValues(source, mode).Inc()
	e.replyLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordLLMTokens records LLM token usage.
func (e *PrometheusExporter) RecordLLMTokens(model, tokenType string, count int) {
	if count <= 0 {
		return
	}
	e.llmTokensUsed.WithLabelValues(model, tokenType).Add(float64(count))
}

// Handler returns the HTTP handler for Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
