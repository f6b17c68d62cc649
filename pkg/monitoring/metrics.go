// Package monitoring provides the OpenTelemetry-backed implementation of the
// pipeline's monitoring interfaces.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chainswap/witness"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// meterName scopes every instrument this package registers.
const meterName = "github.com/chainswap/witness"

// WitnessMetrics provides all metrics for the witnessing pipeline.
type WitnessMetrics struct {
	// Witnessing Counters
	blocksWitnessedCounter   metric.Int64Counter
	witnessErrorsCounter     metric.Int64Counter
	callsSubmittedCounter    metric.Int64Counter
	submissionErrorsCounter  metric.Int64Counter
	reorgReplacementsCounter metric.Int64Counter
	headersDroppedCounter    metric.Int64Counter

	// Latency Breakdown
	blockE2ELatencySeconds         metric.Float64Histogram
	blockProcessingDurationSeconds metric.Float64Histogram
	storeQueryDurationSeconds      metric.Float64Histogram

	// Chain State
	chainLatestBlockGauge    metric.Int64Gauge
	chainWitnessedBlockGauge metric.Int64Gauge
}

// InitMetrics registers all pipeline metrics on the global meter provider.
func InitMetrics() (*WitnessMetrics, error) {
	meter := otel.Meter(meterName)
	wm := &WitnessMetrics{}
	var err error

	wm.blocksWitnessedCounter, err = meter.Int64Counter(
		"witness_blocks_witnessed_total",
		metric.WithDescription("Total number of fully processed blocks"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register blocks witnessed counter: %w", err)
	}

	wm.witnessErrorsCounter, err = meter.Int64Counter(
		"witness_fact_extraction_errors_total",
		metric.WithDescription("Total number of contained fact-extraction errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register witness errors counter: %w", err)
	}

	wm.callsSubmittedCounter, err = meter.Int64Counter(
		"witness_calls_submitted_total",
		metric.WithDescription("Total number of ledger calls handed to the submission capability"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register calls submitted counter: %w", err)
	}

	wm.submissionErrorsCounter, err = meter.Int64Counter(
		"witness_submission_errors_total",
		metric.WithDescription("Total number of failed ledger call submissions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register submission errors counter: %w", err)
	}

	wm.reorgReplacementsCounter, err = meter.Int64Counter(
		"witness_reorg_replacements_total",
		metric.WithDescription("Total number of same-height reorg replacements observed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register reorg replacements counter: %w", err)
	}

	wm.headersDroppedCounter, err = meter.Int64Counter(
		"witness_headers_dropped_total",
		metric.WithDescription("Total number of non-monotonic headers dropped after lag safety"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register headers dropped counter: %w", err)
	}

	wm.blockE2ELatencySeconds, err = meter.Float64Histogram(
		"witness_block_e2e_latency_seconds",
		metric.WithDescription("Latency from a header first being seen to its facts being submitted"),
		metric.WithUnit("seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register block e2e latency histogram: %w", err)
	}

	wm.blockProcessingDurationSeconds, err = meter.Float64Histogram(
		"witness_block_processing_duration_seconds",
		metric.WithDescription("Duration of one driver ProcessBlock call"),
		metric.WithUnit("seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register block processing duration histogram: %w", err)
	}

	wm.storeQueryDurationSeconds, err = meter.Float64Histogram(
		"witness_store_query_duration_seconds",
		metric.WithDescription("Duration of checkpoint store operations"),
		metric.WithUnit("seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register store query duration histogram: %w", err)
	}

	wm.chainLatestBlockGauge, err = meter.Int64Gauge(
		"witness_chain_latest_block",
		metric.WithDescription("Latest observed block index for a chain"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register chain latest block gauge: %w", err)
	}

	wm.chainWitnessedBlockGauge, err = meter.Int64Gauge(
		"witness_chain_witnessed_block",
		metric.WithDescription("Highest fully witnessed block index for a chain"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register chain witnessed block gauge: %w", err)
	}

	return wm, nil
}

// MetricViews defines histogram bucket boundaries for pipeline metrics.
func MetricViews() []sdkmetric.View {
	return []sdkmetric.View{
		// E2E latency spans the safety margin wait, so buckets reach into
		// block-time scales.
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "witness_block_e2e_latency_seconds"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
			}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "witness_block_processing_duration_seconds"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "witness_store_query_duration_seconds"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}},
		),
	}
}

// Labeler carries metric label key-value pairs through component layers.
type Labeler struct {
	Labels map[string]string
}

// NewLabeler creates an empty labeler.
func NewLabeler() Labeler {
	return Labeler{Labels: make(map[string]string)}
}

// With returns a copy of the labeler with the given key-value pairs added.
func (l Labeler) With(keyValues ...string) Labeler {
	if len(keyValues)%2 != 0 {
		keyValues = append(keyValues, "unknown")
	}
	labels := make(map[string]string, len(l.Labels)+len(keyValues)/2)
	for k, v := range l.Labels {
		labels[k] = v
	}
	for i := 0; i < len(keyValues); i += 2 {
		labels[keyValues[i]] = keyValues[i+1]
	}
	return Labeler{Labels: labels}
}

func (l Labeler) otelAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(l.Labels))
	for k, v := range l.Labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

var _ witness.MetricLabeler = (*WitnessMetricLabeler)(nil)

// WitnessMetricLabeler wraps WitnessMetrics with label support.
type WitnessMetricLabeler struct {
	Labeler
	wm *WitnessMetrics
}

// NewWitnessMetricLabeler creates a new pipeline metric labeler.
func NewWitnessMetricLabeler(labeler Labeler, wm *WitnessMetrics) witness.MetricLabeler {
	return &WitnessMetricLabeler{
		Labeler: labeler,
		wm:      wm,
	}
}

func (w *WitnessMetricLabeler) With(keyValues ...string) witness.MetricLabeler {
	return &WitnessMetricLabeler{w.Labeler.With(keyValues...), w.wm}
}

func (w *WitnessMetricLabeler) IncrementBlocksWitnessed(ctx context.Context) {
	w.wm.blocksWitnessedCounter.Add(ctx, 1, metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) IncrementWitnessErrors(ctx context.Context) {
	w.wm.witnessErrorsCounter.Add(ctx, 1, metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) IncrementCallsSubmitted(ctx context.Context) {
	w.wm.callsSubmittedCounter.Add(ctx, 1, metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) IncrementSubmissionErrors(ctx context.Context) {
	w.wm.submissionErrorsCounter.Add(ctx, 1, metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) IncrementReorgReplacements(ctx context.Context) {
	w.wm.reorgReplacementsCounter.Add(ctx, 1, metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) IncrementHeadersDropped(ctx context.Context) {
	w.wm.headersDroppedCounter.Add(ctx, 1, metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) RecordBlockE2ELatency(ctx context.Context, duration time.Duration) {
	w.wm.blockE2ELatencySeconds.Record(ctx, duration.Seconds(), metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) RecordBlockProcessingDuration(ctx context.Context, duration time.Duration) {
	w.wm.blockProcessingDurationSeconds.Record(ctx, duration.Seconds(), metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) RecordStoreQueryDuration(ctx context.Context, method string, duration time.Duration) {
	attrs := append(w.otelAttributes(), attribute.String("method", method))
	w.wm.storeQueryDurationSeconds.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (w *WitnessMetricLabeler) RecordChainLatestBlock(ctx context.Context, blockNum int64) {
	w.wm.chainLatestBlockGauge.Record(ctx, blockNum, metric.WithAttributes(w.otelAttributes()...))
}

func (w *WitnessMetricLabeler) RecordChainWitnessedBlock(ctx context.Context, blockNum int64) {
	w.wm.chainWitnessedBlockGauge.Record(ctx, blockNum, metric.WithAttributes(w.otelAttributes()...))
}
