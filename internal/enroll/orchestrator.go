// Package enroll turns completed enrollment recordings into a persisted voice
// template.
//
// An [Orchestrator] walks through a fixed number of attempts. The first
// accepted attempt becomes the reference every later attempt is matched
// against; once all attempts are collected their templates are merged,
// serialized and stored under the mode's template key.
//
// Like a recorder session, an Orchestrator is confined to one goroutine.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/store"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

var (
	// ErrNotStarted is returned by Submit before Start or after Cancel.
	ErrNotStarted = errors.New("enroll: flow not started")

	// ErrComplete is returned by Submit once every attempt has been collected.
	ErrComplete = errors.New("enroll: enrollment already complete")
)

// Default attempt counts per mode.
const (
	DefaultTextDependentAttempts   = 3
	DefaultTextIndependentAttempts = 1
)

// TemplateSaver persists serialized templates.
type TemplateSaver interface {
	PutTemplate(ctx context.Context, subject, key string, data []byte) error
}

// Observer receives enrollment progress. All methods are called on the
// goroutine that calls Submit.
type Observer interface {
	// OnChunkMessage delivers per-attempt user feedback.
	OnChunkMessage(msg recorder.ChunkMessage)

	// OnEnrollmentAttemptResult reports whether an attempt was accepted.
	// attempt is the index of the next slot to fill.
	OnEnrollmentAttemptResult(accepted bool, attempt, total int)

	// OnEnrollmentComplete delivers the serialized merged template.
	OnEnrollmentComplete(template []byte)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) OnChunkMessage(recorder.ChunkMessage)     {}
func (NopObserver) OnEnrollmentAttemptResult(bool, int, int) {}
func (NopObserver) OnEnrollmentComplete([]byte)              {}

var _ Observer = NopObserver{}

// Settings configures the attempt loop.
type Settings struct {
	// Attempts is the number of templates to collect. Zero selects the
	// mode's default.
	Attempts int

	// QualityCheck enables matching every attempt after the first against
	// the reference template. For text-dependent enrollment it also runs the
	// quality checker, when one is configured, on every attempt.
	QualityCheck bool

	// Quality bounds an acceptable text-dependent attempt.
	Quality quality.Thresholds

	// MatchingThreshold is the lowest similarity score an attempt may have
	// against the reference.
	MatchingThreshold float32

	// LivenessCheck enables the anti-spoofing gate.
	LivenessCheck bool

	// LivenessThreshold is the lowest acceptable liveness probability.
	LivenessThreshold float32
}

// Config identifies one enrollment flow.
type Config struct {
	// Subject namespaces the stored template. Empty means "default".
	Subject string

	// Mode is TextDependent or TextIndependent.
	Mode recorder.VerificationMode

	Settings Settings
}

// Result describes what one Submit call did.
type Result struct {
	Accepted bool

	// Attempt is the index of the next slot to fill after this call.
	Attempt int
	Total   int

	// Rejection holds the reason a rejected attempt was turned down.
	Rejection *recorder.QualityError

	// Template is the serialized merged template once enrollment completed.
	Template []byte
}

// Complete reports whether this submission finished the enrollment.
func (r Result) Complete() bool { return r.Template != nil }

// Orchestrator is the enrollment state machine.
type Orchestrator struct {
	cfg     Config
	engines recorder.Engines
	store   TemplateSaver
	obs     Observer
	metrics *observe.Metrics

	started   bool
	complete  bool
	attempt   int
	reference voiceprint.Template
	collected []voiceprint.Template
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records attempts and completions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New validates cfg against the available engines. saver may be nil, in
// which case the merged template is only delivered to the observer.
func New(cfg Config, engines recorder.Engines, saver TemplateSaver, obs Observer, opts ...Option) (*Orchestrator, error) {
	switch cfg.Mode {
	case recorder.TextDependent:
		if cfg.Settings.Attempts == 0 {
			cfg.Settings.Attempts = DefaultTextDependentAttempts
		}
	case recorder.TextIndependent:
		if cfg.Settings.Attempts == 0 {
			cfg.Settings.Attempts = DefaultTextIndependentAttempts
		}
	default:
		return nil, fmt.Errorf("enroll: mode %s cannot be enrolled", cfg.Mode)
	}
	if cfg.Settings.Attempts < 0 {
		return nil, fmt.Errorf("enroll: invalid attempt count %d", cfg.Settings.Attempts)
	}
	if engines.Voiceprint == nil {
		return nil, &recorder.EngineInitError{Engine: "voiceprint", Err: errors.New("no engine configured")}
	}
	if cfg.Settings.LivenessCheck && engines.Liveness == nil {
		return nil, &recorder.EngineInitError{Engine: "liveness", Err: errors.New("liveness check enabled without a checker")}
	}
	if cfg.Subject == "" {
		cfg.Subject = store.DefaultSubject
	}
	if obs == nil {
		obs = NopObserver{}
	}
	o := &Orchestrator{cfg: cfg, engines: engines, store: saver, obs: obs}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start begins a fresh enrollment, discarding anything collected before.
func (o *Orchestrator) Start() {
	o.clear()
	o.started = true
}

// Cancel discards every collected template, including the reference.
func (o *Orchestrator) Cancel() {
	o.clear()
	o.started = false
}

func (o *Orchestrator) clear() {
	o.attempt = 0
	o.reference = nil
	o.collected = nil
	o.complete = false
}

// Attempt returns the index of the next slot to fill.
func (o *Orchestrator) Attempt() int { return o.attempt }

// Total returns the number of attempts the flow collects.
func (o *Orchestrator) Total() int { return o.cfg.Settings.Attempts }

// Complete reports whether the merged template has been produced.
func (o *Orchestrator) Complete() bool { return o.complete }

// Mode returns the verification mode being enrolled.
func (o *Orchestrator) Mode() recorder.VerificationMode { return o.cfg.Mode }

// Submit processes the recording of one completed attempt. Rejections are
// reported in the Result. An engine failure is returned as an
// *recorder.EngineCallError and leaves the attempt slot open for a retry.
func (o *Orchestrator) Submit(ctx context.Context, rec recorder.AudioRecording) (Result, error) {
	if !o.started {
		return Result{}, ErrNotStarted
	}
	if o.complete {
		return Result{}, ErrComplete
	}
	mode := o.cfg.Mode.String()
	ctx, span := observe.StartSpan(ctx, "enroll.attempt", trace.WithAttributes(
		attribute.String("mode", mode),
		attribute.Int("attempt", o.attempt),
	))
	defer span.End()

	res, err := o.submit(ctx, rec)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordEnrollmentAttempt(ctx, mode, "error")
	case res.Rejection != nil:
		o.metrics.RecordEnrollmentAttempt(ctx, mode, res.Rejection.Kind.String())
	default:
		o.metrics.RecordEnrollmentAttempt(ctx, mode, "accepted")
	}
	return res, err
}

func (o *Orchestrator) submit(ctx context.Context, rec recorder.AudioRecording) (Result, error) {
	log := observe.Logger(ctx).With("mode", o.cfg.Mode.String(), "attempt", o.attempt)
	total := o.cfg.Settings.Attempts

	if o.gatesQuality() {
		q, err := o.engines.Quality.CheckQuality(rec.Data, rec.SampleRate, o.cfg.Settings.Quality)
		if err != nil {
			return Result{}, &recorder.EngineCallError{Op: "quality.check", Err: err}
		}
		if qe, bad := recorder.FromShortDescription(q.ShortDescription); bad {
			log.Info("enroll: attempt failed quality check", "verdict", q.ShortDescription.String(), "snr_db", q.SNRDb, "speech_ms", q.SpeechLengthMs)
			return o.reject(qe), nil
		}
	}

	if o.cfg.Settings.LivenessCheck {
		live, err := o.engines.Liveness.CheckLiveness(rec.Data, rec.SampleRate)
		if err != nil {
			return Result{}, &recorder.EngineCallError{Op: "liveness.check", Err: err}
		}
		if live.Probability < o.cfg.Settings.LivenessThreshold {
			log.Info("enroll: attempt not live", "probability", live.Probability)
			return o.reject(recorder.NewQualityError(recorder.QualityNotLive)), nil
		}
	}

	tmpl, err := o.engines.Voiceprint.CreateTemplate(rec.Data, rec.SampleRate)
	if err != nil {
		log.Warn("enroll: template creation failed", "err", err)
		return Result{}, &recorder.EngineCallError{Op: "voiceprint.create_template", Err: err}
	}

	if o.attempt > 0 && o.cfg.Settings.QualityCheck {
		m, err := o.engines.Voiceprint.Match(o.reference, tmpl)
		if err != nil {
			return Result{}, &recorder.EngineCallError{Op: "voiceprint.match", Err: err}
		}
		if m.Score < o.cfg.Settings.MatchingThreshold {
			log.Info("enroll: attempt does not match reference", "score", m.Score, "threshold", o.cfg.Settings.MatchingThreshold)
			return o.reject(recorder.NewQualityError(recorder.QualityTemplateMatchFailed)), nil
		}
	}

	if o.attempt == 0 {
		o.reference = tmpl
	}
	o.collected = append(o.collected, tmpl)
	o.attempt++
	log.Debug("enroll: attempt accepted", "collected", len(o.collected), "total", total)

	res := Result{Accepted: true, Attempt: o.attempt, Total: total}
	if o.attempt < total {
		o.obs.OnEnrollmentAttemptResult(true, o.attempt, total)
		o.obs.OnChunkMessage(recorder.ProgressMessage(o.attempt, total))
		return res, nil
	}

	merged, data, err := o.finalize()
	if err != nil {
		// Give the last slot back so the caller can retry it.
		o.collected = o.collected[:len(o.collected)-1]
		o.attempt--
		if o.attempt == 0 {
			o.reference = nil
		}
		return Result{}, err
	}
	o.complete = true
	o.persist(ctx, merged, data)
	o.metrics.RecordEnrollmentComplete(ctx, o.cfg.Mode.String())
	log.Info("enroll: enrollment complete", "subject", o.cfg.Subject, "bytes", len(data))

	o.obs.OnEnrollmentAttemptResult(true, o.attempt, total)
	o.obs.OnChunkMessage(recorder.ProgressMessage(o.attempt, total))
	o.obs.OnEnrollmentComplete(data)
	res.Template = data
	return res, nil
}

// gatesQuality reports whether attempts pass through the quality checker.
func (o *Orchestrator) gatesQuality() bool {
	return o.cfg.Mode == recorder.TextDependent && o.cfg.Settings.QualityCheck && o.engines.Quality != nil
}

func (o *Orchestrator) reject(q recorder.QualityError) Result {
	total := o.cfg.Settings.Attempts
	o.obs.OnEnrollmentAttemptResult(false, o.attempt, total)
	o.obs.OnChunkMessage(recorder.RejectedMessage(q))
	return Result{Attempt: o.attempt, Total: total, Rejection: &q}
}

// finalize merges the collected templates and serializes the result. A
// single template is serialized as is.
func (o *Orchestrator) finalize() (voiceprint.Template, []byte, error) {
	merged := o.collected[0]
	if len(o.collected) > 1 {
		var err error
		merged, err = o.engines.Voiceprint.MergeTemplates(o.collected)
		if err != nil {
			return nil, nil, &recorder.EngineCallError{Op: "voiceprint.merge_templates", Err: err}
		}
	}
	data, err := merged.Serialize()
	if err != nil {
		return nil, nil, &recorder.EngineCallError{Op: "voiceprint.serialize", Err: err}
	}
	return merged, data, nil
}

// persist stores data under the mode's key, and the template's embedding when
// both the template and the store support it. Failures are logged only.
func (o *Orchestrator) persist(ctx context.Context, merged voiceprint.Template, data []byte) {
	if o.store == nil {
		return
	}
	log := observe.Logger(ctx).With("subject", o.cfg.Subject)
	key := o.cfg.Mode.TemplateKey()
	if err := o.store.PutTemplate(ctx, o.cfg.Subject, key, data); err != nil {
		log.Warn("enroll: persisting template", "err", &recorder.PersistenceError{Op: "save template", Key: key, Err: err})
		return
	}
	emb, ok := merged.(voiceprint.Embedder)
	if !ok {
		return
	}
	w, ok := o.store.(store.EmbeddingWriter)
	if !ok {
		return
	}
	err := w.PutEmbedding(ctx, o.cfg.Subject, key, emb.Embedding())
	if err != nil && !errors.Is(err, errors.ErrUnsupported) {
		log.Warn("enroll: persisting embedding", "err", &recorder.PersistenceError{Op: "save embedding", Key: key, Err: err})
	}
}
