// Package observe provides observability primitives for tapedeck:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tapedeck metrics.
const meterName = "github.com/MrWong99/tapedeck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesCaptured counts canonical frames produced by capture adapters.
	// Use with attribute.String("source", ...).
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames discarded by full capture queues.
	// Use with attribute.String("source", ...).
	FramesDropped metric.Int64Counter

	// FramesMixed counts mixed frames emitted by the pipeline.
	FramesMixed metric.Int64Counter

	// EncodedBytes counts bytes written to finalized artifacts.
	EncodedBytes metric.Int64Counter

	// Dispatches counts storage dispatch outcomes. Use with attributes:
	//   attribute.String("policy", ...), attribute.String("status", ...)
	Dispatches metric.Int64Counter

	// UploadDuration tracks upload attempt latency.
	UploadDuration metric.Float64Histogram

	// ActiveSessions tracks the number of in-flight recording sessions
	// (0 or 1 in this version).
	ActiveSessions metric.Int64UpDownCounter
}

// uploadBuckets defines histogram bucket boundaries (in seconds) spanning a
// fast local webhook up to the 30 s upload timeout.
var uploadBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("tapedeck.frames.captured",
		metric.WithDescription("Canonical frames produced by capture adapters, by source."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("tapedeck.frames.dropped",
		metric.WithDescription("Frames discarded by full capture queues, by source."),
	); err != nil {
		return nil, err
	}
	if met.FramesMixed, err = m.Int64Counter("tapedeck.frames.mixed",
		metric.WithDescription("Mixed frames emitted by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.EncodedBytes, err = m.Int64Counter("tapedeck.encoded.bytes",
		metric.WithDescription("Bytes written to finalized artifacts."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("tapedeck.dispatches",
		metric.WithDescription("Storage dispatch outcomes by policy and status."),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("tapedeck.upload.duration",
		metric.WithDescription("Upload attempt latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(uploadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("tapedeck.active_sessions",
		metric.WithDescription("Number of in-flight recording sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCapture records a source's end-of-session capture counters.
func (m *Metrics) RecordCapture(ctx context.Context, source string, captured, dropped uint64) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.FramesCaptured.Add(ctx, int64(captured), attrs)
	m.FramesDropped.Add(ctx, int64(dropped), attrs)
}

// RecordDispatch records a dispatch outcome counter increment.
func (m *Metrics) RecordDispatch(ctx context.Context, policy, status string) {
	m.Dispatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("policy", policy),
			attribute.String("status", status),
		),
	)
}
