package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the stream gateway.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	tokensIssuedTotal     prometheus.Counter
	verifyFailuresTotal   *prometheus.CounterVec
	playlistsServedTotal  prometheus.Counter
	segmentsProxiedTotal  prometheus.Counter
	segmentBytesTotal     prometheus.Counter
	upstreamFetchSeconds  *prometheus.HistogramVec
	upstreamFailuresTotal *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		tokensIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tokens_issued_total",
			Help: "Total number of access tokens issued",
		}),
		verifyFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_token_verify_failures_total",
			Help: "Token verification failures by reason",
		}, []string{"reason"}),
		playlistsServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_playlists_served_total",
			Help: "Total number of rewritten playlists served",
		}),
		segmentsProxiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_segments_proxied_total",
			Help: "Total number of media segments proxied",
		}),
		segmentBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_segment_bytes_total",
			Help: "Total bytes of segment payload streamed to clients",
		}),
		upstreamFetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_fetch_seconds",
			Help:    "Latency of upstream fetches until response headers",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		upstreamFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_failures_total",
			Help: "Upstream fetch failures by kind (manifest, segment, feed)",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.tokensIssuedTotal,
		m.verifyFailuresTotal,
		m.playlistsServedTotal,
		m.segmentsProxiedTotal,
		m.segmentBytesTotal,
		m.upstreamFetchSeconds,
		m.upstreamFailuresTotal,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) IncTokensIssued() {
	m.tokensIssuedTotal.Inc()
}

// IncVerifyFailure counts a rejected token under reason ("expired", "invalid_token", ...).
func (m *Metrics) IncVerifyFailure(reason string) {
	m.verifyFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncPlaylistsServed() {
	m.playlistsServedTotal.Inc()
}

// AddSegment records one proxied segment of n bytes.
func (m *Metrics) AddSegment(n int64) {
	m.segmentsProxiedTotal.Inc()
	if n > 0 {
		m.segmentBytesTotal.Add(float64(n))
	}
}

// ObserveUpstream records the duration of an upstream fetch and whether it failed.
func (m *Metrics) ObserveUpstream(kind string, d time.Duration, failed bool) {
	m.upstreamFetchSeconds.WithLabelValues(kind).Observe(d.Seconds())
	if failed {
		m.upstreamFailuresTotal.WithLabelValues(kind).Inc()
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
