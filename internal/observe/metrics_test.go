package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the data point whose attribute key equals val.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, val string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == val {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, val)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecorderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, "text_dependent")
	m.RecordSegment(ctx, "text_dependent")
	m.RecordSilenceReset(ctx, "text_independent")
	m.RecordLongSilence(ctx)
	m.RecordChunk(ctx, true, "ok")
	m.RecordChunk(ctx, false, "too_noisy")
	m.RecordChunk(ctx, false, "too_noisy")

	rm := collect(t, reader)

	tests := []struct {
		name, key, val string
		want           int64
	}{
		{"voxkey.recorder.segments", "mode", "text_dependent", 2},
		{"voxkey.recorder.silence_resets", "mode", "text_independent", 1},
		{"voxkey.recorder.long_silences", "", "", 1},
		{"voxkey.recorder.chunks", "reason", "too_noisy", 2},
		{"voxkey.recorder.chunks", "outcome", "accepted", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.val, func(t *testing.T) {
			if got := sumWhere(t, rm, tc.name, tc.key, tc.val); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEnrollAndVerifyCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEnrollmentAttempt(ctx, "text_dependent", "accepted")
	m.RecordEnrollmentAttempt(ctx, "text_dependent", "mismatch")
	m.RecordEnrollmentComplete(ctx, "text_dependent")
	m.RecordVerification(ctx, "text_independent", "verified")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxkey.enroll.attempts", "outcome", "mismatch"); got != 1 {
		t.Errorf("mismatch attempts = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "voxkey.enroll.completed", "mode", "text_dependent"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "voxkey.verify.results", "outcome", "verified"); got != 1 {
		t.Errorf("verifications = %d, want 1", got)
	}
}

func TestRecordEngineCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEngineCall(ctx, "speech.add_samples", time.Now(), nil)
	m.RecordEngineCall(ctx, "speech.add_samples", time.Now(), errors.New("boom"))

	rm := collect(t, reader)
	met := findMetric(rm, "voxkey.engine.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Errorf("duration data points = %+v, want one point with count 2", hist.DataPoints)
	}
	if got := sumWhere(t, rm, "voxkey.engine.errors", "op", "speech.add_samples"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxkey.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestContinuousScore(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordContinuousScore(context.Background(), 0.75)

	rm := collect(t, reader)
	met := findMetric(rm, "voxkey.recorder.continuous_score")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("data points = %+v, want one sample", hist.DataPoints)
	}
}

func TestNilMetrics_NoPanic(t *testing.T) {
	t.Parallel()

	var m *Metrics
	ctx := context.Background()
	m.RecordSegment(ctx, "x")
	m.RecordSilenceReset(ctx, "x")
	m.RecordLongSilence(ctx)
	m.RecordChunk(ctx, true, "ok")
	m.RecordContinuousScore(ctx, 0.5)
	m.RecordEnrollmentAttempt(ctx, "x", "y")
	m.RecordEnrollmentComplete(ctx, "x")
	m.RecordVerification(ctx, "x", "y")
	m.RecordEngineCall(ctx, "op", time.Now(), nil)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
