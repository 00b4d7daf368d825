package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec
	outboundDroppedTotal   *prometheus.CounterVec

	// Call Metrics
	callsStartedTotal   *prometheus.CounterVec
	callsEndedTotal     *prometheus.CounterVec
	callsActive         prometheus.Gauge
	callsDuration       *prometheus.HistogramVec
	callEventsDropped   *prometheus.CounterVec
	signalsRelayedTotal prometheus.Counter

	// SFU Metrics
	sfuTokensIssuedTotal prometheus.Counter

	// Redis Metrics
	redisDegradedMode    prometheus.Gauge
	redisHealthChecks    prometheus.Counter
	redisPublishErrTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of open WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		outboundDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_outbound_dropped_total",
				Help:        "Total number of outbound events dropped before delivery",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		callsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Total number of call sessions created",
				ConstLabels: labels,
			},
			[]string{"call_type", "mode"},
		),
		callsEndedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_ended_total",
				Help:        "Total number of call sessions ended",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of live call sessions",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Lifetime of call sessions in seconds",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"call_type"},
		),
		callEventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_events_dropped_total",
				Help:        "Total number of client call events dropped",
				ConstLabels: labels,
			},
			[]string{"event", "reason"},
		),
		signalsRelayedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_signals_relayed_total",
				Help:        "Total number of signaling payloads relayed",
				ConstLabels: labels,
			},
		),

		sfuTokensIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "sfu_tokens_issued_total",
				Help:        "Total number of media room tokens issued",
				ConstLabels: labels,
			},
		),

		redisDegradedMode: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
				ConstLabels: labels,
			},
		),
		redisHealthChecks: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "redis_health_check_total",
				Help:        "Total number of Redis health checks",
				ConstLabels: labels,
			},
		),
		redisPublishErrTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "redis_publish_errors_total",
				Help:        "Total number of failed Redis publishes",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// WebSocket Metrics Methods

// SetWebSocketConnections sets the number of active WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message; direction is "inbound" or "outbound"
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(kind string) {
	if m == nil {
		return
	}
	m.websocketErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordOutboundDropped records an event that never reached a socket
func (m *Metrics) RecordOutboundDropped(reason string) {
	if m == nil {
		return
	}
	m.outboundDroppedTotal.WithLabelValues(reason).Inc()
}

// Call Metrics Methods

// RecordCallStarted records a new call session
func (m *Metrics) RecordCallStarted(callType, mode string) {
	if m == nil {
		return
	}
	m.callsStartedTotal.WithLabelValues(callType, mode).Inc()
}

// RecordCallEnded records a finished call session and its lifetime
func (m *Metrics) RecordCallEnded(callType, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callsEndedTotal.WithLabelValues(reason).Inc()
	m.callsDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// SetActiveCalls sets the number of live calls
func (m *Metrics) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	m.callsActive.Set(float64(count))
}

// RecordEventDropped records a client event that was silently discarded
func (m *Metrics) RecordEventDropped(event, reason string) {
	if m == nil {
		return
	}
	m.callEventsDropped.WithLabelValues(event, reason).Inc()
}

// RecordSignalRelayed records a forwarded signaling payload
func (m *Metrics) RecordSignalRelayed() {
	if m == nil {
		return
	}
	m.signalsRelayedTotal.Inc()
}

// RecordSFUTokenIssued records a media room token
func (m *Metrics) RecordSFUTokenIssued() {
	if m == nil {
		return
	}
	m.sfuTokensIssuedTotal.Inc()
}

// Redis Metrics Methods

// SetRedisDegraded flips the degraded-mode gauge
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.redisDegradedMode.Set(1)
		return
	}
	m.redisDegradedMode.Set(0)
}

// RecordRedisHealthCheck counts a completed health check
func (m *Metrics) RecordRedisHealthCheck() {
	if m == nil {
		return
	}
	m.redisHealthChecks.Inc()
}

// RecordRedisPublishError counts a failed publish
func (m *Metrics) RecordRedisPublishError() {
	if m == nil {
		return
	}
	m.redisPublishErrTotal.Inc()
}
