package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all engine metrics covering the golden signals:
// - Latency: how long batch operations take
// - Traffic: batch item throughput
// - Errors: rate of per-item failures
// - Saturation: jobs currently in flight
type Metrics struct {
	meter metric.Meter

	// Batch operation metrics (Latency, Traffic, Errors)
	BatchOpDuration  metric.Float64Histogram
	BatchItemsTotal  metric.Int64Counter
	BatchErrorsTotal metric.Int64Counter

	// Job metrics (Saturation)
	JobsInFlight metric.Int64UpDownCounter

	// Staging metrics (Traffic)
	StagedFilesTotal    metric.Int64Counter
	StagingSkippedTotal metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("jobforge")
	m := &Metrics{meter: meter}

	m.BatchOpDuration, err = meter.Float64Histogram(
		"batch_op_duration_seconds",
		metric.WithDescription("Batch operation latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchItemsTotal, err = meter.Int64Counter(
		"batch_items_total",
		metric.WithDescription("Total number of items processed by batch operations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchErrorsTotal, err = meter.Int64Counter(
		"batch_errors_total",
		metric.WithDescription("Total number of per-item batch failures"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsInFlight, err = meter.Int64UpDownCounter(
		"jobs_in_flight",
		metric.WithDescription("Jobs submitted but not yet finished or failed (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StagedFilesTotal, err = meter.Int64Counter(
		"staged_files_total",
		metric.WithDescription("Total files copied or rendered into staging directories"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StagingSkippedTotal, err = meter.Int64Counter(
		"staging_skipped_total",
		metric.WithDescription("Total provisioning requests that observed an already-staged file"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordBatchOp records one finished batch operation.
func (m *Metrics) RecordBatchOp(ctx context.Context, op string, items, errors int, durationSeconds float64) {
	attrs := metric.WithAttributes(opAttr(op))

	m.BatchOpDuration.Record(ctx, durationSeconds, attrs)
	m.BatchItemsTotal.Add(ctx, int64(items), attrs)
	if errors > 0 {
		m.BatchErrorsTotal.Add(ctx, int64(errors), attrs)
	}

	switch op {
	case "submit":
		m.JobsInFlight.Add(ctx, int64(items-errors))
	case "cancel", "cleanup":
		m.JobsInFlight.Add(ctx, -int64(items-errors))
	}
}

// RecordFileStaged records one file actually copied or rendered.
func (m *Metrics) RecordFileStaged(ctx context.Context, rendered bool) {
	m.StagedFilesTotal.Add(ctx, 1, metric.WithAttributes(renderedAttr(rendered)))
}

// RecordStagingSkipped records a provisioning request deduplicated away.
func (m *Metrics) RecordStagingSkipped(ctx context.Context) {
	m.StagingSkippedTotal.Add(ctx, 1)
}
