package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gateway metrics.
	ToolsRegistered      prometheus.Histogram
	DuplicateToolsTotal  prometheus.Counter
	ConfigLoadErrorTotal prometheus.Counter

	// Tool invocation metrics.
	ToolInvocationsTotal *prometheus.CounterVec
	UpstreamDuration     *prometheus.HistogramVec
	UpstreamErrorsTotal  *prometheus.CounterVec
	ActiveInvocations    prometheus.Gauge

	// Auth metrics.
	AuthFailuresTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		ToolsRegistered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexgate_tools_registered",
			Help:    "Number of tools registered per gateway request.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		DuplicateToolsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexgate_duplicate_tools_total",
			Help: "Tool configs skipped because an earlier config used the same name.",
		}),

		ConfigLoadErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexgate_tool_config_load_errors_total",
			Help: "Gateway requests that failed because tool configs could not be read.",
		}),

		ToolInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexgate_tool_invocations_total",
			Help: "Total number of tool invocations by outcome.",
		}, []string{"outcome"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexgate_upstream_duration_seconds",
			Help:    "Upstream retrieval request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status_class"}),

		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexgate_upstream_errors_total",
			Help: "Total number of upstream request errors by error type.",
		}, []string{"error_type"}),

		ActiveInvocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexgate_active_invocations",
			Help: "Number of tool invocations currently in flight.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexgate_auth_failures_total",
			Help: "Total number of authentication failures by reason.",
		}, []string{"reason"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexgate_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ToolsRegistered,
		m.DuplicateToolsTotal,
		m.ConfigLoadErrorTotal,
		m.ToolInvocationsTotal,
		m.UpstreamDuration,
		m.UpstreamErrorsTotal,
		m.ActiveInvocations,
		m.AuthFailuresTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// RegisterMeteringBuffer exposes the number of invocations waiting to be
// flushed to the database.
func (m *Metrics) RegisterMeteringBuffer(pending func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "indexgate_metering_buffer_size",
		Help: "Current number of buffered invocation records.",
	}, func() float64 { return float64(pending()) }))
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(seconds)
}

// IncAuthFailure increments the auth failure counter for the given reason.
func (m *Metrics) IncAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveToolsRegistered records how many tools a gateway request published.
func (m *Metrics) ObserveToolsRegistered(n int) {
	m.ToolsRegistered.Observe(float64(n))
}

// IncDuplicateTool counts a tool config skipped for reusing a name.
func (m *Metrics) IncDuplicateTool() {
	m.DuplicateToolsTotal.Inc()
}

// IncConfigLoadError counts a failed tool config load.
func (m *Metrics) IncConfigLoadError() {
	m.ConfigLoadErrorTotal.Inc()
}

// IncToolInvocation increments the invocation counter for the given outcome.
func (m *Metrics) IncToolInvocation(outcome string) {
	m.ToolInvocationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpstreamDuration records the upstream request duration.
func (m *Metrics) ObserveUpstreamDuration(statusClass string, seconds float64) {
	m.UpstreamDuration.WithLabelValues(statusClass).Observe(seconds)
}

// IncUpstreamError increments the upstream error counter with error type classification.
func (m *Metrics) IncUpstreamError(errorType string) {
	m.UpstreamErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncActiveInvocations increments the in-flight invocations gauge.
func (m *Metrics) IncActiveInvocations() {
	m.ActiveInvocations.Inc()
}

// DecActiveInvocations decrements the in-flight invocations gauge.
func (m *Metrics) DecActiveInvocations() {
	m.ActiveInvocations.Dec()
}
