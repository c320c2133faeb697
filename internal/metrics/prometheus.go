package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the connections service
type Metrics struct {
	// Broker metrics
	TokenRequestsTotal   *prometheus.CounterVec
	TokenRefreshesTotal  *prometheus.CounterVec
	TokenRefreshDuration *prometheus.HistogramVec
	CodeExchangesTotal   *prometheus.CounterVec
	DisconnectsTotal     *prometheus.CounterVec
	KeyRotationsTotal    *prometheus.CounterVec
	DecryptFailuresTotal *prometheus.CounterVec

	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Database query metrics
	DatabaseQueryErrorsTotal *prometheus.CounterVec
}

// initMetrics creates and registers all Prometheus metrics
func initMetrics() *Metrics {
	return &Metrics{
		TokenRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_token_requests_total",
				Help: "Total token requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		TokenRefreshesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_token_refreshes_total",
				Help: "Total provider refresh attempts by result",
			},
			[]string{"provider", "result"},
		),
		TokenRefreshDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connections_token_refresh_duration_seconds",
				Help:    "Provider refresh round-trip latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		CodeExchangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_code_exchanges_total",
				Help: "Total authorization-code exchanges by result",
			},
			[]string{"provider", "result"},
		),
		DisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_disconnects_total",
				Help: "Total disconnects; revoke label tracks provider-side revocation",
			},
			[]string{"provider", "revoke"},
		),
		KeyRotationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_key_rotations_total",
				Help: "Per-row encryption key rotation outcomes",
			},
			[]string{"result"},
		),
		DecryptFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_decrypt_failures_total",
				Help: "Ciphertext decryption failures (data corruption or lost keys)",
			},
			[]string{"provider"},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connections_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "connections_http_requests_in_flight",
				Help: "HTTP requests currently being served",
			},
		),
		DatabaseQueryErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connections_database_query_errors_total",
				Help: "Database errors by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) RecordTokenRequest(provider, outcome string) {
	m.TokenRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordTokenRefresh(provider, result string, duration time.Duration) {
	m.TokenRefreshesTotal.WithLabelValues(provider, result).Inc()
	m.TokenRefreshDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) RecordCodeExchange(provider string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.CodeExchangesTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordDisconnect(provider string, revokeSucceeded bool) {
	revoke := "ok"
	if !revokeSucceeded {
		revoke = "failed"
	}
	m.DisconnectsTotal.WithLabelValues(provider, revoke).Inc()
}

func (m *Metrics) RecordKeyRotation(result string) {
	m.KeyRotationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDecryptFailure(provider string) {
	m.DecryptFailuresTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) IncHTTPInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

func (m *Metrics) DecHTTPInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

func (m *Metrics) RecordDatabaseQueryError(operation string) {
	m.DatabaseQueryErrorsTotal.WithLabelValues(operation).Inc()
}
