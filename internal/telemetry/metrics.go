package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SourceMetricsMeterName is the name used for the data source metrics meter
	SourceMetricsMeterName = "github.com/stacklok/toolhive-datasource/datasource"

	// HandlerScopeItem labels failures of per-source handlers
	HandlerScopeItem = "item"
	// HandlerScopeGlobal labels failures of the global handler
	HandlerScopeGlobal = "global"
)

// SourceMetrics holds the OpenTelemetry instruments for data source loads
type SourceMetrics struct {
	loadDuration    metric.Float64Histogram
	handlerFailures metric.Int64Counter
	sourcesByStatus metric.Int64Gauge
}

// NewSourceMetrics creates a new SourceMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSourceMetrics(provider metric.MeterProvider) (*SourceMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SourceMetricsMeterName)

	loadDuration, err := meter.Float64Histogram(
		"thv_ds_source_load_duration_seconds",
		metric.WithDescription("Duration of a data source load, from dispatch to registry update, in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	handlerFailures, err := meter.Int64Counter(
		"thv_ds_handler_failures_total",
		metric.WithDescription("Number of data handler invocations that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	sourcesByStatus, err := meter.Int64Gauge(
		"thv_ds_sources",
		metric.WithDescription("Number of registered data sources in each status"),
		metric.WithUnit("{source}"),
	)
	if err != nil {
		return nil, err
	}

	return &SourceMetrics{
		loadDuration:    loadDuration,
		handlerFailures: handlerFailures,
		sourcesByStatus: sourcesByStatus,
	}, nil
}

// RecordLoad records the duration and outcome of one source load
func (m *SourceMetrics) RecordLoad(ctx context.Context, sourceID, sourceType string, duration time.Duration, success bool) {
	if m == nil || m.loadDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", sourceID),
		attribute.String("type", sourceType),
		attribute.Bool("success", success),
	}

	m.loadDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordHandlerFailure counts a failed data handler invocation
func (m *SourceMetrics) RecordHandlerFailure(ctx context.Context, sourceID, scope string) {
	if m == nil || m.handlerFailures == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", sourceID),
		attribute.String("scope", scope),
	}

	m.handlerFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStatusCounts records the number of sources per status
func (m *SourceMetrics) RecordStatusCounts(ctx context.Context, counts map[string]int) {
	if m == nil || m.sourcesByStatus == nil {
		return
	}

	for status, count := range counts {
		m.sourcesByStatus.Record(ctx, int64(count), metric.WithAttributes(attribute.String("status", status)))
	}
}
