// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	OriginDenied   prometheus.Counter
	InvalidTargets prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cors_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cors_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cors_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cors_proxy_upstream_request_duration_seconds",
			Help:    "Target request latency in seconds, measured to response headers.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cors_proxy_upstream_responses_total",
			Help: "Total target responses by method and status code.",
		}, []string{"method", "status_code"}),

		OriginDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cors_proxy_origin_denied_total",
			Help: "Requests rejected because the Origin header was not allowed.",
		}),

		InvalidTargets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cors_proxy_invalid_target_total",
			Help: "Requests rejected because the path did not name a valid target URL.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.OriginDenied,
		m.InvalidTargets,
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

// NormalizeRoute returns a bounded route label. Every target URL path would
// be its own label value, so anything outside the proxy's own endpoints is
// collapsed to "proxy".
func NormalizeRoute(path string) string {
	switch {
	case path == "/" || path == "":
		return "root"
	case path == "/healthz":
		return "/healthz"
	case path == "/proxy/status":
		return "/proxy/status"
	case path == "/metrics" || strings.HasPrefix(path, "/metrics/"):
		return "/metrics"
	default:
		return "proxy"
	}
}
