package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the server's Prometheus metrics. A nil Collector
// is valid and records nothing, so callers never need to guard.
type Collector struct {
	// Session metrics
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	turnsTotal     *prometheus.CounterVec
	bargeInsTotal  *prometheus.CounterVec

	// Dialog state machine
	stateTransitions *prometheus.CounterVec

	// Provider metrics
	sttStreamDuration prometheus.Histogram
	llmFirstToken     prometheus.Histogram
	ttsUnitDuration   prometheus.Histogram
	providerErrors    *prometheus.CounterVec

	// Egress metrics
	egressDropped prometheus.Counter
	egressDepth   prometheus.Gauge

	// Artifact cache metrics
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates and registers the collector under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of open dialog sessions",
	})

	c.sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of dialog sessions",
	})

	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of dialog turns",
		},
		[]string{"outcome"}, // completed, interrupted, failed, empty
	)

	c.bargeInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of barge-ins",
		},
		[]string{"source"}, // vad, stt_late, client_message, client, or the client's interrupt reason
	)

	c.stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of dialog state transitions",
		},
		[]string{"from", "to"},
	)

	c.sttStreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stt_stream_duration_seconds",
		Help:      "Lifetime of live STT streams",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	c.llmFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_first_token_seconds",
		Help:      "Time to first LLM fragment per turn",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	c.ttsUnitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tts_unit_duration_seconds",
		Help:      "Synthesis time per unit",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	c.providerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total provider failures",
		},
		[]string{"provider", "kind"},
	)

	c.egressDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "egress_dropped_total",
		Help:      "Messages dropped for carrying a stale generation",
	})

	c.egressDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "egress_queue_depth",
		Help:      "Egress queue depth last reported by any session",
	})

	c.cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifact_cache_hits_total",
		Help:      "Artifact fetches that found a live entry",
	})

	c.cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifact_cache_misses_total",
		Help:      "Artifact fetches that found nothing",
	})

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// SessionOpened records a new session.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// SessionClosed records a finished session.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// RecordTurn records a finished turn with its outcome.
func (c *Collector) RecordTurn(outcome string) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordBargeIn records a barge-in and its trigger source.
func (c *Collector) RecordBargeIn(source string) {
	if c == nil {
		return
	}
	c.bargeInsTotal.WithLabelValues(source).Inc()
}

// RecordStateTransition records a dialog state change.
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordSTTStream records the lifetime of one live STT stream.
func (c *Collector) RecordSTTStream(d time.Duration) {
	if c == nil {
		return
	}
	c.sttStreamDuration.Observe(d.Seconds())
}

// RecordLLMFirstToken records time to first fragment.
func (c *Collector) RecordLLMFirstToken(d time.Duration) {
	if c == nil {
		return
	}
	c.llmFirstToken.Observe(d.Seconds())
}

// RecordTTSUnit records one synthesis duration.
func (c *Collector) RecordTTSUnit(d time.Duration) {
	if c == nil {
		return
	}
	c.ttsUnitDuration.Observe(d.Seconds())
}

// RecordProviderError records a provider failure.
func (c *Collector) RecordProviderError(provider, kind string) {
	if c == nil {
		return
	}
	c.providerErrors.WithLabelValues(provider, kind).Inc()
}

// RecordEgressDropped records a stale message dropped before the wire.
func (c *Collector) RecordEgressDropped() {
	if c == nil {
		return
	}
	c.egressDropped.Inc()
}

// SetEgressDepth publishes the current egress queue depth.
func (c *Collector) SetEgressDepth(depth int) {
	if c == nil {
		return
	}
	c.egressDepth.Set(float64(depth))
}

// RecordCacheHit records an artifact fetch that succeeded.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss records an artifact fetch that missed.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordHTTPRequest records one REST request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// statusCode buckets an HTTP status code.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
