// Package recorder implements the streaming decision engine behind enrollment
// and verification recordings.
//
// A [Session] consumes PCM buffers as they arrive, keeps running speech and
// silence statistics, and decides per buffer whether to continue, abandon the
// segment in place, or stop and hand a finished [AudioRecording] to its
// [Observer]. Which rules apply is fixed at construction by a [Policy]
// computed from the verification and recording modes.
//
// Concurrency: Start, Process, Stop and Drain must be called from a single
// goroutine (the capture loop). Abort and MarkLongSilence may be called from
// any goroutine at any time; they only flip an atomic status flag, and the
// actual teardown happens on the next Process, Stop or Drain.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/pkg/audio"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// Status is the lifecycle state of a Session.
type Status int32

const (
	StatusIdle Status = iota
	StatusRecording
	StatusAborted
	StatusLongSilence
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	case StatusAborted:
		return "aborted"
	case StatusLongSilence:
		return "long_silence"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// DefaultVADConfig is used for endpoint detection when Config.VAD is zero.
var DefaultVADConfig = vad.Config{
	FrameSizeMs:      20,
	SpeechThreshold:  0.5,
	SilenceThreshold: 0.35,
}

// Config describes one recording session.
type Config struct {
	// ID identifies the session in logs.
	ID string

	Mode          VerificationMode
	RecordingMode RecordingMode

	// SampleRate of the incoming PCM16 mono audio.
	SampleRate int

	// Policy governs stop and reset decisions. Build it with NewPolicy.
	Policy Policy

	// Templates are the enrolled references scored by continuous sessions.
	Templates []voiceprint.Template

	// VAD configures the endpoint detector. Its SampleRate is ignored.
	VAD vad.Config
}

// Stats exposes the session's current segment for inspection.
type Stats struct {
	Buffers           int
	AccumulatedBytes  int
	Speech            Snapshot
	CollectedSpeechMs float32
}

// Session is the recording state machine.
type Session struct {
	cfg     Config
	engines Engines
	obs     Observer
	metrics *observe.Metrics
	rng     *rand.Rand
	ctx     context.Context

	status atomic.Int32

	acc      Accumulator
	tracker  *Tracker
	endpoint *EndpointDetector
	chunks   *ChunkCollector
	window   *ContinuousWindow
	buffers  int
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics records session events and engine calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRand sets the source for chunk encouragement messages.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) { s.rng = r }
}

// WithContext sets the context attached to metric recordings.
func WithContext(ctx context.Context) Option {
	return func(s *Session) { s.ctx = ctx }
}

// NewSession validates cfg against the available engines. Engine handles are
// created lazily by the first Start.
func NewSession(cfg Config, engines Engines, obs Observer, opts ...Option) (*Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("recorder: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Policy == nil {
		return nil, errors.New("recorder: no policy")
	}
	if engines.Speech == nil {
		return nil, &EngineInitError{Engine: "speech", Err: errors.New("no engine configured")}
	}
	switch p := cfg.Policy.(type) {
	case UtterancePolicy:
		if p.EndDetection == EndByEndpoint && engines.VAD == nil {
			return nil, &EngineInitError{Engine: "vad", Err: errors.New("endpoint detection without a vad engine")}
		}
	case ChunkedPolicy:
		if p.Chunk.QualityCheck && engines.Quality == nil {
			return nil, &EngineInitError{Engine: "quality", Err: errors.New("quality check enabled without a checker")}
		}
	case ContinuousPolicy:
		if engines.Voiceprint == nil {
			return nil, &EngineInitError{Engine: "voiceprint", Err: errors.New("no engine configured")}
		}
		if len(cfg.Templates) == 0 {
			return nil, errors.New("recorder: continuous verification needs at least one template")
		}
	}
	if cfg.VAD == (vad.Config{}) {
		cfg.VAD = DefaultVADConfig
	}
	cfg.VAD.SampleRate = cfg.SampleRate
	if obs == nil {
		obs = NopObserver{}
	}

	s := &Session{cfg: cfg, engines: engines, obs: obs, ctx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Mode returns the verification mode.
func (s *Session) Mode() VerificationMode { return s.cfg.Mode }

// RecordingMode returns the recording mode.
func (s *Session) RecordingMode() RecordingMode { return s.cfg.RecordingMode }

// SampleRate returns the session sample rate.
func (s *Session) SampleRate() int { return s.cfg.SampleRate }

// Status returns the current status. Safe for concurrent use.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Stats returns the state of the current segment.
func (s *Session) Stats() Stats {
	st := Stats{Buffers: s.buffers, AccumulatedBytes: s.acc.Len()}
	if s.tracker != nil {
		st.Speech = s.tracker.Snapshot()
	}
	if s.chunks != nil {
		st.AccumulatedBytes = s.chunks.PendingLen()
		st.CollectedSpeechMs = s.chunks.CollectedSpeechMs()
	}
	return st
}

// Start resets all statistics and buffered audio and begins recording. A
// session left aborted is drained first.
func (s *Session) Start() error {
	switch s.Status() {
	case StatusIdle:
	case StatusAborted:
		s.Drain()
	default:
		return ErrAlreadyRecording
	}
	if err := s.init(); err != nil {
		return err
	}
	if err := s.resetComponents(); err != nil {
		return err
	}
	s.acc.Reset()
	s.buffers = 0
	s.status.Store(int32(StatusRecording))
	slog.Debug("recorder: session started",
		"session_id", s.cfg.ID,
		"mode", s.cfg.Mode.String(),
		"recording_mode", s.cfg.RecordingMode.String(),
	)
	return nil
}

// init creates the engine handles the policy needs, once.
func (s *Session) init() error {
	c := calls{ctx: s.ctx, metrics: s.metrics}
	if s.tracker == nil {
		stream, err := s.engines.Speech.NewStream(s.cfg.SampleRate)
		if err != nil {
			return &EngineInitError{Engine: "speech", Err: err}
		}
		s.tracker = NewTracker(stream)
		s.tracker.calls = c
	}

	switch p := s.cfg.Policy.(type) {
	case UtterancePolicy:
		if p.EndDetection == EndByEndpoint && s.endpoint == nil {
			d, err := NewEndpointDetector(s.engines.VAD, s.cfg.VAD, p.Thresholds.MaxSilenceLengthMs)
			if err != nil {
				return err
			}
			d.calls = c
			s.endpoint = d
		}
	case ChunkedPolicy:
		if s.chunks == nil {
			cc, err := NewChunkCollector(p.Chunk, s.cfg.SampleRate, s.tracker, s.engines.Quality, s.engines.SNR, s.obs,
				WithChunkRand(s.rng), WithChunkMetrics(s.metrics))
			if err != nil {
				return err
			}
			cc.calls = c
			s.chunks = cc
		}
	case ContinuousPolicy:
		if s.window == nil {
			stream, err := s.engines.Voiceprint.NewVerifyStream(s.cfg.Templates, s.cfg.SampleRate, p.Continuous.WindowSeconds)
			if err != nil {
				return &EngineInitError{Engine: "voiceprint", Err: err}
			}
			s.window = NewContinuousWindow(stream, p.Continuous, s.obs)
			s.window.calls = c
			s.window.metrics = s.metrics
			s.acc.limit = audio.BytesForMs(p.Continuous.WindowSeconds*1000, s.cfg.SampleRate)
		}
	}
	return nil
}

func (s *Session) resetComponents() error {
	if err := s.tracker.Reset(); err != nil {
		return err
	}
	if s.endpoint != nil {
		s.endpoint.Reset()
	}
	if s.chunks != nil {
		if err := s.chunks.Reset(); err != nil {
			return err
		}
	}
	if s.window != nil {
		if err := s.window.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// Process consumes one buffer. It is a no-op unless the session is
// recording; an aborted session is drained and a session marked as long
// silence is stopped. Engine failures are reported to the observer and
// returned, with the session still recording.
func (s *Session) Process(buf audio.Buffer) (Decision, error) {
	switch s.Status() {
	case StatusRecording:
	case StatusAborted:
		s.Drain()
		return DecisionIgnored, nil
	case StatusLongSilence:
		s.finishLongSilence()
		return DecisionLongSilence, nil
	default:
		return DecisionIgnored, nil
	}
	if len(buf.Data) == 0 {
		return DecisionContinue, nil
	}

	s.buffers++
	if s.buffers == 1 {
		// The first buffer carries capture-start transients: keep the
		// audio, skip the analysis.
		s.appendAudio(buf.Data)
		return DecisionContinue, nil
	}

	switch p := s.cfg.Policy.(type) {
	case UtterancePolicy:
		s.acc.Append(buf.Data)
		return s.processUtterance(p, buf.Data)
	case ChunkedPolicy:
		return s.processChunk(buf.Data)
	case ContinuousPolicy:
		s.acc.Append(buf.Data)
		return s.processContinuous(buf.Data)
	default:
		return DecisionIgnored, fmt.Errorf("recorder: unsupported policy %T", p)
	}
}

// appendAudio stores pcm in the segment. In chunked enrollment the pending
// chunk is the segment.
func (s *Session) appendAudio(pcm []byte) {
	if s.chunks != nil {
		s.chunks.hold(pcm)
		return
	}
	s.acc.Append(pcm)
}

func (s *Session) processUtterance(p UtterancePolicy, pcm []byte) (Decision, error) {
	snap, err := s.tracker.Update(pcm)
	if err != nil {
		return s.fail(err)
	}
	s.obs.OnSpeechLengthAvailable(snap.SpeechMs)

	var ended bool
	if s.endpoint != nil {
		if ended, err = s.endpoint.Feed(pcm); err != nil {
			return s.fail(err)
		}
	}

	switch p.Decide(snap, ended) {
	case DecisionReset:
		s.acc.Reset()
		if err := s.tracker.Reset(); err != nil {
			return s.fail(err)
		}
		if s.endpoint != nil {
			s.endpoint.Reset()
		}
		s.metrics.RecordSilenceReset(s.ctx, s.cfg.Mode.String())
		slog.Debug("recorder: silence reset",
			"session_id", s.cfg.ID,
			"speech_ms", snap.SpeechMs,
			"background_ms", snap.BackgroundMs,
		)
		return DecisionReset, nil
	case DecisionStop:
		m := &AudioMetrics{
			AudioDurationMs:  s.acc.DurationMs(s.cfg.SampleRate),
			SpeechDurationMs: snap.SpeechMs,
			SNRDb:            s.segmentSNR(),
		}
		if !s.finish(m, true) {
			return DecisionIgnored, nil
		}
		return DecisionStop, nil
	default:
		return DecisionContinue, nil
	}
}

func (s *Session) processChunk(pcm []byte) (Decision, error) {
	out, err := s.chunks.Process(pcm)
	if err != nil {
		return s.fail(err)
	}
	if out.Recording == nil {
		return DecisionContinue, nil
	}
	if !s.status.CompareAndSwap(int32(StatusRecording), int32(StatusIdle)) {
		return DecisionIgnored, nil
	}
	s.metrics.RecordSegment(s.ctx, s.cfg.Mode.String())
	slog.Info("recorder: chunked enrollment audio complete",
		"session_id", s.cfg.ID,
		"speech_ms", out.Recording.Metrics.SpeechDurationMs,
		"bytes", len(out.Recording.Data),
	)
	s.obs.OnRecordStop(*out.Recording)
	return DecisionStop, nil
}

func (s *Session) processContinuous(pcm []byte) (Decision, error) {
	snap, err := s.tracker.Update(pcm)
	if err != nil {
		return s.fail(err)
	}
	if _, err := s.window.Process(pcm, snap.BackgroundMs); err != nil {
		return s.fail(err)
	}
	return DecisionContinue, nil
}

// segmentSNR computes the SNR of the accumulated audio. SNR is advisory, so
// a failure is logged and reported as zero.
func (s *Session) segmentSNR() float32 {
	if s.engines.SNR == nil {
		return 0
	}
	var v float32
	c := calls{ctx: s.ctx, metrics: s.metrics}
	if err := c.do("snr.compute", func() (err error) {
		v, err = s.engines.SNR.ComputeSNR(s.acc.Bytes(), s.cfg.SampleRate)
		return err
	}); err != nil {
		slog.Warn("recorder: segment snr", "session_id", s.cfg.ID, "err", err)
		return 0
	}
	return v
}

func (s *Session) fail(err error) (Decision, error) {
	slog.Warn("recorder: engine call failed", "session_id", s.cfg.ID, "mode", s.cfg.Mode.String(), "err", err)
	s.obs.OnError(err.Error())
	return DecisionContinue, err
}

// finish moves a recording session to idle and emits its segment, preceded
// by OnAnalyzing when analyzing is set. It reports false, emitting nothing,
// when an abort or long-silence mark won the race. A chunked session emits
// the accepted chunks collected so far.
func (s *Session) finish(m *AudioMetrics, analyzing bool) bool {
	if !s.status.CompareAndSwap(int32(StatusRecording), int32(StatusIdle)) {
		return false
	}
	if analyzing {
		s.obs.OnAnalyzing()
	}
	var rec AudioRecording
	if s.chunks != nil {
		rec = s.chunks.Flush(m)
	} else {
		rec = AudioRecording{Data: s.acc.Detach(), SampleRate: s.cfg.SampleRate, Metrics: m}
	}
	s.metrics.RecordSegment(s.ctx, s.cfg.Mode.String())
	slog.Info("recorder: segment complete",
		"session_id", s.cfg.ID,
		"mode", s.cfg.Mode.String(),
		"bytes", len(rec.Data),
	)
	s.obs.OnRecordStop(rec)
	return true
}

func (s *Session) finishLongSilence() {
	if !s.status.CompareAndSwap(int32(StatusLongSilence), int32(StatusIdle)) {
		return
	}
	s.release()
	s.metrics.RecordLongSilence(s.ctx)
	slog.Info("recorder: long silence", "session_id", s.cfg.ID)
	s.obs.OnLongSilence()
}

// Abort marks the session aborted. It is safe to call from any goroutine and
// reports whether the session was recording or waiting in long silence.
func (s *Session) Abort() bool {
	return s.status.CompareAndSwap(int32(StatusRecording), int32(StatusAborted)) ||
		s.status.CompareAndSwap(int32(StatusLongSilence), int32(StatusAborted))
}

// MarkLongSilence flags a recording session as gone quiet. The next Process
// or Stop ends it with OnLongSilence. Safe to call from any goroutine.
func (s *Session) MarkLongSilence() bool {
	return s.status.CompareAndSwap(int32(StatusRecording), int32(StatusLongSilence))
}

// Stop ends the session. From recording it emits the accumulated audio with
// m, which may be nil; a chunked enrollment emits its accepted chunks and
// drops the unchecked pending one. From aborted it releases the audio
// silently, and from long silence it emits OnLongSilence.
func (s *Session) Stop(m *AudioMetrics) error {
	switch s.Status() {
	case StatusRecording:
		if s.finish(m, false) {
			return nil
		}
		// Lost the race against Abort or MarkLongSilence.
		return s.Stop(m)
	case StatusAborted:
		s.Drain()
		return nil
	case StatusLongSilence:
		s.finishLongSilence()
		return nil
	default:
		return ErrNotRecording
	}
}

// Drain completes a pending abort by releasing the segment. It reports
// whether an abort was pending.
func (s *Session) Drain() bool {
	if s.Status() != StatusAborted {
		return false
	}
	s.release()
	if !s.status.CompareAndSwap(int32(StatusAborted), int32(StatusIdle)) {
		return false
	}
	slog.Debug("recorder: session aborted", "session_id", s.cfg.ID)
	return true
}

// release drops the segment audio. Statistics are reset by the next Start.
func (s *Session) release() {
	s.acc.Detach()
	if s.chunks != nil {
		s.chunks.pending.Detach()
		s.chunks.merged.Detach()
	}
}

// Close releases engine handles held by the session.
func (s *Session) Close() error {
	s.Abort()
	s.Drain()
	if s.endpoint != nil {
		return s.endpoint.Close()
	}
	return nil
}
