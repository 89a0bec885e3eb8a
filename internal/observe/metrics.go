// Package observe provides application-wide observability primitives for
// voxkey: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// All Record* helpers are safe to call on a nil *Metrics, so components can
// take an optional metrics handle without guarding every call site.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxkey metrics.
const meterName = "github.com/MrWong99/voxkey"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Recording sessions ---

	// SegmentsEmitted counts completed segments. Use with attribute:
	//   attribute.String("mode", ...)
	SegmentsEmitted metric.Int64Counter

	// SilenceResets counts in-place resets caused by a long silence run.
	// Use with attribute: attribute.String("mode", ...)
	SilenceResets metric.Int64Counter

	// LongSilences counts sessions that ended in the long-silence state.
	LongSilences metric.Int64Counter

	// Chunks counts chunk quality decisions. Use with attributes:
	//   attribute.String("outcome", "accepted"|"rejected"), attribute.String("reason", ...)
	Chunks metric.Int64Counter

	// ContinuousScore tracks continuous verification probabilities in [0, 1].
	ContinuousScore metric.Float64Histogram

	// --- Enrollment and verification ---

	// EnrollmentAttempts counts attempt outcomes. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", ...)
	EnrollmentAttempts metric.Int64Counter

	// EnrollmentsCompleted counts finished enrollments. Use with attribute:
	//   attribute.String("mode", ...)
	EnrollmentsCompleted metric.Int64Counter

	// Verifications counts verification results. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", ...)
	Verifications metric.Int64Counter

	// --- Engines ---

	// EngineDuration tracks synchronous engine call latency. Use with attribute:
	//   attribute.String("op", ...)
	EngineDuration metric.Float64Histogram

	// EngineErrors counts failed engine calls. Use with attribute:
	//   attribute.String("op", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live audio sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// engineBuckets defines histogram bucket boundaries (in seconds) for engine
// calls made on the audio path.
var engineBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// scoreBuckets splits the probability range into deciles.
var scoreBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Recording sessions.
	if met.SegmentsEmitted, err = m.Int64Counter("voxkey.recorder.segments",
		metric.WithDescription("Completed recording segments by mode."),
	); err != nil {
		return nil, err
	}
	if met.SilenceResets, err = m.Int64Counter("voxkey.recorder.silence_resets",
		metric.WithDescription("In-place segment resets caused by long silence."),
	); err != nil {
		return nil, err
	}
	if met.LongSilences, err = m.Int64Counter("voxkey.recorder.long_silences",
		metric.WithDescription("Sessions that ended in the long-silence state."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("voxkey.recorder.chunks",
		metric.WithDescription("Chunked enrollment quality decisions by outcome and reason."),
	); err != nil {
		return nil, err
	}
	if met.ContinuousScore, err = m.Float64Histogram("voxkey.recorder.continuous_score",
		metric.WithDescription("Continuous verification probabilities."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Enrollment and verification.
	if met.EnrollmentAttempts, err = m.Int64Counter("voxkey.enroll.attempts",
		metric.WithDescription("Enrollment attempts by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.EnrollmentsCompleted, err = m.Int64Counter("voxkey.enroll.completed",
		metric.WithDescription("Completed enrollments by mode."),
	); err != nil {
		return nil, err
	}
	if met.Verifications, err = m.Int64Counter("voxkey.verify.results",
		metric.WithDescription("Verification results by mode and outcome."),
	); err != nil {
		return nil, err
	}

	// Engines.
	if met.EngineDuration, err = m.Float64Histogram("voxkey.engine.duration",
		metric.WithDescription("Latency of engine calls by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(engineBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("voxkey.engine.errors",
		metric.WithDescription("Failed engine calls by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxkey.active_sessions",
		metric.WithDescription("Number of live audio sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxkey.http.request.duration",
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

// RecordSegment records a completed segment for mode.
func (m *Metrics) RecordSegment(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.SegmentsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordSilenceReset records an in-place silence reset for mode.
func (m *Metrics) RecordSilenceReset(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.SilenceResets.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordLongSilence records a session that ended in long silence.
func (m *Metrics) RecordLongSilence(ctx context.Context) {
	if m == nil {
		return
	}
	m.LongSilences.Add(ctx, 1)
}

// RecordChunk records a chunk decision. reason is "ok" for accepted chunks.
func (m *Metrics) RecordChunk(ctx context.Context, accepted bool, reason string) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.Chunks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// RecordContinuousScore records a continuous verification probability.
func (m *Metrics) RecordContinuousScore(ctx context.Context, probability float32) {
	if m == nil {
		return
	}
	m.ContinuousScore.Record(ctx, float64(probability))
}

// RecordEnrollmentAttempt records an attempt outcome such as "accepted",
// "mismatch", "not_live" or "error".
func (m *Metrics) RecordEnrollmentAttempt(ctx context.Context, mode, outcome string) {
	if m == nil {
		return
	}
	m.EnrollmentAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// RecordEnrollmentComplete records a finished enrollment.
func (m *Metrics) RecordEnrollmentComplete(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.EnrollmentsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordVerification records a verification outcome.
func (m *Metrics) RecordVerification(ctx context.Context, mode, outcome string) {
	if m == nil {
		return
	}
	m.Verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// RecordEngineCall records the latency of an engine call started at start,
// and counts it as an error when err is non-nil.
func (m *Metrics) RecordEngineCall(ctx context.Context, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.EngineDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.EngineErrors.Add(ctx, 1, attrs)
	}
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
