// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// transformBuckets cover CPU-bound rewrites of a single document.
var transformBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// Document outcomes.
const (
	OutcomeTransformed = "transformed"
	OutcomePassthrough = "passthrough"
	OutcomeFailed      = "failed"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	DocumentsTotal    *prometheus.CounterVec
	LinksRewritten    *prometheus.CounterVec
	TextSubstitutions prometheus.Counter
	TransformDuration prometheus.Histogram
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewrite_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rewrite_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewrite_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rewrite_proxy_upstream_request_duration_seconds",
			Help:    "Upstream fetch latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewrite_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		DocumentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewrite_proxy_documents_total",
			Help: "Documents served, by outcome (transformed, passthrough, failed).",
		}, []string{"outcome"}),

		LinksRewritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewrite_proxy_links_rewritten_total",
			Help: "Link attributes seen in transformed documents, by rewrite kind.",
		}, []string{"kind"}),

		TextSubstitutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewrite_proxy_text_substitutions_total",
			Help: "Text substitutions applied to transformed documents.",
		}),

		TransformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewrite_proxy_transform_duration_seconds",
			Help:    "Time spent decoding, rewriting and re-encoding one document.",
			Buckets: transformBuckets,
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.DocumentsTotal,
		m.LinksRewritten,
		m.TextSubstitutions,
		m.TransformDuration,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// adminPrefix holds the proxy's own routes; every other path is mirrored.
const adminPrefix = "/_proxy"

// NormalizePath returns a bounded path label for Prometheus metrics:
// the admin route itself, "admin" for unknown admin paths, "opaque" for
// cross-origin fetches and "local" for mirrored origin paths.
func NormalizePath(path, rawQuery string) string {
	if path == adminPrefix || strings.HasPrefix(path, adminPrefix+"/") {
		switch path {
		case adminPrefix + "/healthz", adminPrefix + "/status", adminPrefix + "/metrics":
			return path
		}
		return "admin"
	}
	if path == "/" && (strings.HasPrefix(rawQuery, "url=") || strings.Contains(rawQuery, "&url=")) {
		return "opaque"
	}
	return "local"
}
