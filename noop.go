package witness

import (
	"context"
	"time"
)

var _ Monitoring = (*NoopMonitoring)(nil)

// NoopMonitoring discards all metrics. Used when monitoring is disabled and
// in tests.
type NoopMonitoring struct {
	noop MetricLabeler
}

// NewNoopMonitoring creates a monitoring instance that records nothing.
func NewNoopMonitoring() Monitoring {
	return &NoopMonitoring{noop: &noopMetricLabeler{}}
}

func (n *NoopMonitoring) Metrics() MetricLabeler {
	return n.noop
}

var _ MetricLabeler = (*noopMetricLabeler)(nil)

type noopMetricLabeler struct{}

func (n *noopMetricLabeler) With(keyValues ...string) MetricLabeler { return n }

func (n *noopMetricLabeler) IncrementBlocksWitnessed(ctx context.Context)   {}
func (n *noopMetricLabeler) IncrementWitnessErrors(ctx context.Context)     {}
func (n *noopMetricLabeler) IncrementCallsSubmitted(ctx context.Context)    {}
func (n *noopMetricLabeler) IncrementSubmissionErrors(ctx context.Context)  {}
func (n *noopMetricLabeler) IncrementReorgReplacements(ctx context.Context) {}
func (n *noopMetricLabeler) IncrementHeadersDropped(ctx context.Context)    {}

func (n *noopMetricLabeler) RecordBlockE2ELatency(ctx context.Context, duration time.Duration) {}
func (n *noopMetricLabeler) RecordBlockProcessingDuration(ctx context.Context, duration time.Duration) {
}

func (n *noopMetricLabeler) RecordStoreQueryDuration(ctx context.Context, method string, duration time.Duration) {
}

func (n *noopMetricLabeler) RecordChainLatestBlock(ctx context.Context, blockNum int64)    {}
func (n *noopMetricLabeler) RecordChainWitnessedBlock(ctx context.Context, blockNum int64) {}
