// Package observe provides application-wide observability primitives for
// the transcription server: OpenTelemetry metrics, distributed tracing, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all server metrics.
const meterName = "github.com/arborview/transcriber"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscribeDuration tracks one backend.Transcribe call's latency.
	TranscribeDuration metric.Float64Histogram

	// SessionDuration tracks a session's total lifetime, from start_stream
	// to End/Abort.
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time (health,
	// metrics, and any other plain HTTP routes). Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksReceived counts chunks accepted per strategy/backend pair.
	ChunksReceived metric.Int64Counter

	// ChunksRateLimited counts chunks dropped by the dispatcher's
	// per-client rate limiter.
	ChunksRateLimited metric.Int64Counter

	// WakeWordDetections counts wake-word gate triggers.
	WakeWordDetections metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts failed Transcribe calls by backend name.
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for transcription-pipeline latencies — batch inference passes tend to run
// from a few hundred milliseconds to several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("transcriber.backend.transcribe.duration",
		metric.WithDescription("Latency of one backend Transcribe call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("transcriber.session.duration",
		metric.WithDescription("Total lifetime of a transcription session, start to end/abort."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("transcriber.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ChunksReceived, err = m.Int64Counter("transcriber.chunks.received",
		metric.WithDescription("Total audio chunks accepted, by strategy and backend."),
	); err != nil {
		return nil, err
	}
	if met.ChunksRateLimited, err = m.Int64Counter("transcriber.chunks.rate_limited",
		metric.WithDescription("Total audio chunks dropped by the per-client rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.WakeWordDetections, err = m.Int64Counter("transcriber.wake_word.detections",
		metric.WithDescription("Total wake-word gate triggers."),
	); err != nil {
		return nil, err
	}

	if met.BackendErrors, err = m.Int64Counter("transcriber.backend.errors",
		metric.WithDescription("Total failed Transcribe calls, by backend name."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("transcriber.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunkReceived is a convenience method recording a chunk counter
// increment with the standard attribute set.
func (m *Metrics) RecordChunkReceived(ctx context.Context, strategy, backend string) {
	m.ChunksReceived.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("backend", backend),
		),
	)
}

// RecordBackendError is a convenience method recording a backend error
// counter increment.
func (m *Metrics) RecordBackendError(ctx context.Context, backend string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}

// RecordWakeWordDetection is a convenience method recording a wake-word
// gate trigger.
func (m *Metrics) RecordWakeWordDetection(ctx context.Context, phrase string) {
	m.WakeWordDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("phrase", phrase)),
	)
}
