package usage

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets suit LLM completions, 100ms to 2 minutes.
var LatencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics owns a private Prometheus registry so tests and multiple servers
// never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	activeStreams   prometheus.Gauge
	rateLimited     prometheus.Counter
	upstreamErrors  *prometheus.CounterVec
	breakerRejected prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_gateway_requests_total",
			Help: "Requests by inbound format, model and status code",
		}, []string{"format", "model", "status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_gateway_tokens_total",
			Help: "Tokens by model and direction",
		}, []string{"model", "direction"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copilot_gateway_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LatencyBuckets,
		}, []string{"format", "stream"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copilot_gateway_streams_active",
			Help: "Streams currently being relayed",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copilot_gateway_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_gateway_upstream_errors_total",
			Help: "Upstream error replies by status code",
		}, []string{"status"}),
		breakerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copilot_gateway_breaker_rejected_total",
			Help: "Requests refused while the upstream breaker was open",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.tokens, m.latency, m.activeStreams,
		m.rateLimited, m.upstreamErrors, m.breakerRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one finished request. Nil-safe.
func (m *Metrics) Observe(r Record) {
	if m == nil {
		return
	}
	r = r.normalized()
	m.requests.WithLabelValues(r.Format, r.Model, strconv.Itoa(r.Status)).Inc()
	if r.InputTokens > 0 {
		m.tokens.WithLabelValues(r.Model, "input").Add(float64(r.InputTokens))
	}
	if r.OutputTokens > 0 {
		m.tokens.WithLabelValues(r.Model, "output").Add(float64(r.OutputTokens))
	}
	m.latency.WithLabelValues(r.Format, strconv.FormatBool(r.Stream)).Observe(r.Latency.Seconds())
}

// StreamStarted increments the active stream gauge and returns its
// decrement.
func (m *Metrics) StreamStarted() (done func()) {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) UpstreamError(status int) {
	if m != nil {
		m.upstreamErrors.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (m *Metrics) BreakerRejected() {
	if m != nil {
		m.breakerRejected.Inc()
	}
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
