package metrics

import "time"

// NoopMetrics is a no-operation Recorder used when metrics are disabled
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordTokenRequest(provider, outcome string)                        {}
func (n *NoopMetrics) RecordTokenRefresh(provider, result string, duration time.Duration) {}
func (n *NoopMetrics) RecordCodeExchange(provider string, success bool)                   {}
func (n *NoopMetrics) RecordDisconnect(provider string, revokeSucceeded bool)             {}
func (n *NoopMetrics) RecordKeyRotation(result string)                                    {}
func (n *NoopMetrics) RecordDecryptFailure(provider string)                               {}

func (n *NoopMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoopMetrics) IncHTTPInFlight()                                                      {}
func (n *NoopMetrics) DecHTTPInFlight()                                                      {}

func (n *NoopMetrics) RecordDatabaseQueryError(operation string) {}
