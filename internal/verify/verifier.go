// Package verify checks a completed recording against an enrolled voice
// template.
//
// A [Verifier] handles the one-shot text-dependent and text-independent
// flows: an optional liveness gate, a template built from the recording, and a
// match against the template stored for the subject. Quality problems are
// reported as warnings and never reject a verification on their own.
//
// Continuous verification runs inside a recorder session; [Verifier.Templates]
// loads the templates such a session scores against.
package verify

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/store"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// ErrNotEnrolled is returned when no template is stored for the subject and
// mode being verified.
var ErrNotEnrolled = errors.New("verify: subject is not enrolled")

// TemplateLoader reads serialized templates.
type TemplateLoader interface {
	GetTemplate(ctx context.Context, subject, key string) ([]byte, error)
}

// Settings configures one verification.
type Settings struct {
	// Threshold is the lowest match probability that counts as verified.
	Threshold float32

	LivenessCheck     bool
	LivenessThreshold float32

	// QualityCheck runs the quality checker and attaches its verdict as a
	// warning.
	QualityCheck bool
	Quality      quality.Thresholds
}

// Request identifies what to verify.
type Request struct {
	// Subject whose template is loaded. Empty means "default".
	Subject string

	// Mode is TextDependent or TextIndependent.
	Mode recorder.VerificationMode

	Settings Settings
}

// Result is the outcome of a verification.
type Result struct {
	Verified bool

	// Score and Probability come from the template match. Both are zero when
	// the liveness gate rejected the recording.
	Score       float32
	Probability float32

	// Rejection is set when the liveness gate turned the recording down.
	Rejection *recorder.QualityError

	// Warnings lists quality problems found in the recording.
	Warnings []recorder.QualityError
}

// Outcome names the result for metrics and logs.
func (r Result) Outcome() string {
	switch {
	case r.Rejection != nil:
		return r.Rejection.Kind.String()
	case r.Verified:
		return "verified"
	default:
		return "rejected"
	}
}

// Verifier is safe for concurrent use when its engines are.
type Verifier struct {
	engines recorder.Engines
	loader  TemplateLoader
	metrics *observe.Metrics
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithMetrics records verification outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// New returns a Verifier backed by loader.
func New(engines recorder.Engines, loader TemplateLoader, opts ...Option) (*Verifier, error) {
	if engines.Voiceprint == nil {
		return nil, &recorder.EngineInitError{Engine: "voiceprint", Err: errors.New("no engine configured")}
	}
	if loader == nil {
		return nil, errors.New("verify: template loader is required")
	}
	v := &Verifier{engines: engines, loader: loader}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks rec against the template enrolled for req.Subject and
// req.Mode. Engine failures are returned as *recorder.EngineCallError.
func (v *Verifier) Verify(ctx context.Context, req Request, rec recorder.AudioRecording) (Result, error) {
	mode := req.Mode.String()
	ctx, span := observe.StartSpan(ctx, "verify.segment", trace.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("subject", store.Subject(req.Subject)),
	))
	defer span.End()

	res, err := v.verify(ctx, req, rec)
	outcome := res.Outcome()
	switch {
	case errors.Is(err, ErrNotEnrolled):
		outcome = "not_enrolled"
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	v.metrics.RecordVerification(ctx, mode, outcome)
	return res, err
}

func (v *Verifier) verify(ctx context.Context, req Request, rec recorder.AudioRecording) (Result, error) {
	if req.Mode != recorder.TextDependent && req.Mode != recorder.TextIndependent {
		return Result{}, fmt.Errorf("verify: mode %s is not a one-shot mode", req.Mode)
	}
	log := observe.Logger(ctx).With("mode", req.Mode.String(), "subject", store.Subject(req.Subject))
	set := req.Settings

	if set.LivenessCheck {
		if v.engines.Liveness == nil {
			return Result{}, &recorder.EngineInitError{Engine: "liveness", Err: errors.New("liveness check enabled without a checker")}
		}
		live, err := v.engines.Liveness.CheckLiveness(rec.Data, rec.SampleRate)
		if err != nil {
			return Result{}, &recorder.EngineCallError{Op: "liveness.check", Err: err}
		}
		if live.Probability < set.LivenessThreshold {
			log.Info("verify: recording not live", "probability", live.Probability)
			q := recorder.NewQualityError(recorder.QualityNotLive)
			return Result{Rejection: &q}, nil
		}
	}

	enrolled, err := v.load(ctx, req.Subject, req.Mode)
	if err != nil {
		return Result{}, err
	}
	probe, err := v.engines.Voiceprint.CreateTemplate(rec.Data, rec.SampleRate)
	if err != nil {
		return Result{}, &recorder.EngineCallError{Op: "voiceprint.create_template", Err: err}
	}
	m, err := v.engines.Voiceprint.Match(enrolled, probe)
	if err != nil {
		return Result{}, &recorder.EngineCallError{Op: "voiceprint.match", Err: err}
	}
	res := Result{
		Verified:    m.Probability >= set.Threshold,
		Score:       m.Score,
		Probability: m.Probability,
	}
	if set.QualityCheck && v.engines.Quality != nil {
		res.Warnings = v.warnings(ctx, rec, set.Quality)
	}
	log.Info("verify: segment verified", "verified", res.Verified, "probability", m.Probability, "threshold", set.Threshold, "warnings", len(res.Warnings))
	return res, nil
}

// warnings runs the quality checker. A failing check is logged and yields no
// warnings.
func (v *Verifier) warnings(ctx context.Context, rec recorder.AudioRecording, th quality.Thresholds) []recorder.QualityError {
	q, err := v.engines.Quality.CheckQuality(rec.Data, rec.SampleRate, th)
	if err != nil {
		observe.Logger(ctx).Warn("verify: quality check failed", "err", &recorder.EngineCallError{Op: "quality.check", Err: err})
		return nil
	}
	if w, bad := recorder.FromShortDescription(q.ShortDescription); bad {
		return []recorder.QualityError{w}
	}
	return nil
}

func (v *Verifier) load(ctx context.Context, subject string, mode recorder.VerificationMode) (voiceprint.Template, error) {
	key := mode.TemplateKey()
	data, err := v.loader.GetTemplate(ctx, subject, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotEnrolled, store.Subject(subject), key)
	}
	if err != nil {
		return nil, &recorder.PersistenceError{Op: "load template", Key: key, Err: err}
	}
	t, err := v.engines.Voiceprint.LoadTemplate(data)
	if err != nil {
		return nil, &recorder.EngineCallError{Op: "voiceprint.load_template", Err: err}
	}
	return t, nil
}

// Templates loads the enrolled templates a session in mode verifies against.
// Continuous sessions use the text-independent template.
func (v *Verifier) Templates(ctx context.Context, subject string, mode recorder.VerificationMode) ([]voiceprint.Template, error) {
	t, err := v.load(ctx, subject, mode)
	if err != nil {
		return nil, err
	}
	return []voiceprint.Template{t}, nil
}
