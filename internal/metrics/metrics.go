// Package metrics records operational metrics for the connections service.
// A Prometheus-backed Recorder is used when metrics are enabled; a noop
// Recorder keeps call sites unconditional when they are not.
package metrics

import (
	"sync"
	"time"
)

// Token request outcomes recorded by RecordTokenRequest.
const (
	OutcomeCached      = "cached"
	OutcomeRefreshed   = "refreshed"
	OutcomeUnavailable = "unavailable"
)

// Refresh results recorded by RecordTokenRefresh.
const (
	RefreshSuccess      = "success"
	RefreshInvalidGrant = "invalid_grant"
	RefreshTransient    = "transient"
)

// Key rotation results recorded by RecordKeyRotation.
const (
	RotationRotated = "rotated"
	RotationSkipped = "skipped"
	RotationFailed  = "failed"
)

// Recorder is the metrics surface consumed by the broker and HTTP layer.
type Recorder interface {
	// RecordTokenRequest counts getValidToken calls by outcome.
	RecordTokenRequest(provider, outcome string)

	// RecordTokenRefresh counts provider refresh attempts and their latency.
	RecordTokenRefresh(provider, result string, duration time.Duration)

	// RecordCodeExchange counts authorization-code commits.
	RecordCodeExchange(provider string, success bool)

	// RecordDisconnect counts disconnects; revokeSucceeded tracks whether
	// the best-effort provider revocation landed.
	RecordDisconnect(provider string, revokeSucceeded bool)

	// RecordKeyRotation counts per-row key rotation outcomes.
	RecordKeyRotation(result string)

	// RecordDecryptFailure counts ciphertext decryption failures. Any
	// nonzero value indicates data corruption or lost key material.
	RecordDecryptFailure(provider string)

	// HTTP request metrics
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncHTTPInFlight()
	DecHTTPInFlight()

	// RecordDatabaseQueryError counts store-level failures by operation.
	RecordDatabaseQueryError(operation string)
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init returns a Prometheus-backed Recorder when enabled, or a noop
// Recorder otherwise. Prometheus collectors register once per process.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}
