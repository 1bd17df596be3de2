// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/PAID-LLC/voice-talk-app"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// AIDuration tracks conversation backend round-trip latency.
	AIDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts capability backend calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("capability", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// Turns counts completed conversation turns by status.
	Turns metric.Int64Counter

	// QuotaDenials counts admission checks rejected by the arbiter, per
	// capability.
	QuotaDenials metric.Int64Counter

	// BackendDemotions counts backend failovers, per capability and backend.
	BackendDemotions metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks capture sessions currently in flight.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voicetalk.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AIDuration, err = m.Float64Histogram("voicetalk.ai.duration",
		metric.WithDescription("Latency of a conversation backend round-trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voicetalk.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("voicetalk.backend.requests",
		metric.WithDescription("Total backend calls by backend, capability, and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voicetalk.turns",
		metric.WithDescription("Total conversation turns by status."),
	); err != nil {
		return nil, err
	}
	if met.QuotaDenials, err = m.Int64Counter("voicetalk.quota.denials",
		metric.WithDescription("Total quota admission denials by capability."),
	); err != nil {
		return nil, err
	}
	if met.BackendDemotions, err = m.Int64Counter("voicetalk.backend.demotions",
		metric.WithDescription("Total backend demotions by capability and backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("voicetalk.active_recordings",
		metric.WithDescription("Number of capture sessions currently recording."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicetalk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordBackendRequest records a backend call counter increment with the
// standard attribute set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, backend, capability, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("capability", capability),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records a completed conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordQuotaDenial records an admission denial for capability.
func (m *Metrics) RecordQuotaDenial(ctx context.Context, capability string) {
	m.QuotaDenials.Add(ctx, 1,
		metric.WithAttributes(attribute.String("capability", capability)),
	)
}

// RecordDemotion records a backend demotion.
func (m *Metrics) RecordDemotion(ctx context.Context, capability, backend string) {
	m.BackendDemotions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("backend", backend),
		),
	)
}
