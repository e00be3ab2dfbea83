package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the proxy.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheFailuresTotal  prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CompressionInChars  prometheus.Counter
	CompressionOutChars prometheus.Counter
	CompressionDegraded prometheus.Counter
	LLMRequestDuration  *prometheus.HistogramVec
	LLMFirstChunk       prometheus.Histogram
	LLMRetriesTotal     prometheus.Counter
	RateLimitedTotal    *prometheus.CounterVec
	ToolDispatchTotal   *prometheus.CounterVec
	AuditDroppedTotal   prometheus.Counter
	PIIRedactionsTotal  *prometheus.CounterVec
}

// NewMetrics registers the proxy's metric collectors on the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors on reg. Tests pass a fresh
// registry so collectors never collide across cases.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by path and status code.",
		}, []string{"path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synthlang",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Semantic cache hits, by model.",
		}, []string{"model"}),
		CacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Semantic cache misses, by model.",
		}, []string{"model"}),
		CacheFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "cache",
			Name:      "failures_total",
			Help:      "Cache lookups degraded to misses by embedding failures.",
		}),
		CacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted from the semantic cache.",
		}),
		CompressionInChars: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "compress",
			Name:      "input_chars_total",
			Help:      "Characters entering the compression pipeline.",
		}),
		CompressionOutChars: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "compress",
			Name:      "output_chars_total",
			Help:      "Characters leaving the compression pipeline.",
		}),
		CompressionDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "compress",
			Name:      "degraded_total",
			Help:      "Pipeline runs that fell back to the original text.",
		}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synthlang",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Upstream LLM request latency, by model.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model"}),
		LLMFirstChunk: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synthlang",
			Subsystem: "llm",
			Name:      "first_chunk_seconds",
			Help:      "Time to first streamed chunk from the upstream.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		LLMRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Upstream requests retried after a transient failure.",
		}),
		RateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by role.",
		}, []string{"role"}),
		ToolDispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "tools",
			Name:      "dispatch_total",
			Help:      "Tool invocations, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		AuditDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit records dropped due to a full queue.",
		}),
		PIIRedactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthlang",
			Subsystem: "pii",
			Name:      "redactions_total",
			Help:      "PII values redacted, by category.",
		}, []string{"category"}),
	}
}
