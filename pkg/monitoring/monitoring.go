package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"

	"github.com/chainswap/witness"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultExportInterval is the periodic metric export interval when the
// configuration does not set one.
const DefaultExportInterval = 30 * time.Second

var _ witness.Monitoring = (*WitnessMonitoring)(nil)

// WitnessMonitoring provides otel-based monitoring for the pipeline.
type WitnessMonitoring struct {
	metrics  witness.MetricLabeler
	provider *sdkmetric.MeterProvider
}

// InitMonitoring sets up the OTLP metric exporter and registers all pipeline
// metrics. The nodeID is attached to every metric as a label. When monitoring
// is disabled it returns a no-op implementation.
func InitMonitoring(ctx context.Context, config witness.MonitoringConfig, nodeID string) (*WitnessMonitoring, error) {
	if !config.Enabled {
		return &WitnessMonitoring{metrics: witness.NewNoopMonitoring().Metrics()}, nil
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(config.OtelExporterHTTPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}

	interval := config.ExportInterval.Duration
	if interval <= 0 {
		interval = DefaultExportInterval
	}

	// Histogram buckets must be in place before any instrument is created.
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithView(MetricViews()...),
	)
	otel.SetMeterProvider(provider)

	witnessMetrics, err := InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline metrics: %w", err)
	}

	return &WitnessMonitoring{
		metrics:  NewWitnessMetricLabeler(NewLabeler().With("node", nodeID), witnessMetrics),
		provider: provider,
	}, nil
}

// Metrics returns the metrics labeler for the pipeline.
func (m *WitnessMonitoring) Metrics() witness.MetricLabeler {
	return m.metrics
}

// Shutdown flushes pending metric exports.
func (m *WitnessMonitoring) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
