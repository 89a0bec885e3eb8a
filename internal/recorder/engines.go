package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/pkg/provider/liveness"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	"github.com/MrWong99/voxkey/pkg/provider/snr"
	"github.com/MrWong99/voxkey/pkg/provider/speech"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// Engines holds the handles a session or orchestrator calls into. It is built
// once at startup and passed by value; the handles themselves are shared.
//
// Quality, Liveness, SNR and VAD are optional. A nil checker disables the
// corresponding gate.
type Engines struct {
	Speech     speech.Engine
	Voiceprint voiceprint.Engine
	Quality    quality.Checker
	Liveness   liveness.Checker
	SNR        snr.Computer
	VAD        vad.Engine
}

// Serialized returns a copy of e whose shared engines are guarded by a single
// mutex, so sessions running on different goroutines never call them at the
// same time. Streams and VAD sessions created through the copy are
// per-session handles but still reach into the shared engine, so their calls
// take the same lock.
func (e Engines) Serialized() Engines {
	mu := &sync.Mutex{}
	out := Engines{}
	if e.Speech != nil {
		out.Speech = &lockedSpeech{mu: mu, e: e.Speech}
	}
	if e.Voiceprint != nil {
		out.Voiceprint = &lockedVoiceprint{mu: mu, e: e.Voiceprint}
	}
	if e.Quality != nil {
		out.Quality = &lockedQuality{mu: mu, c: e.Quality}
	}
	if e.Liveness != nil {
		out.Liveness = &lockedLiveness{mu: mu, c: e.Liveness}
	}
	if e.SNR != nil {
		out.SNR = &lockedSNR{mu: mu, c: e.SNR}
	}
	if e.VAD != nil {
		out.VAD = &lockedVAD{mu: mu, e: e.VAD}
	}
	return out
}

// ── Locked wrappers ──────────────────────────────────────────────────────────

type lockedSpeech struct {
	mu *sync.Mutex
	e  speech.Engine
}

func (l *lockedSpeech) NewStream(sampleRate int) (speech.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.e.NewStream(sampleRate)
	if err != nil {
		return nil, err
	}
	return &lockedStream{mu: l.mu, s: s}, nil
}

type lockedStream struct {
	mu *sync.Mutex
	s  speech.Stream
}

func (l *lockedStream) AddSamples(pcm []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.AddSamples(pcm)
}

func (l *lockedStream) TotalSpeechInfo() (speech.SpeechInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.TotalSpeechInfo()
}

func (l *lockedStream) CurrentBackgroundLengthMs() (float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.CurrentBackgroundLengthMs()
}

func (l *lockedStream) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Reset()
}

type lockedVoiceprint struct {
	mu *sync.Mutex
	e  voiceprint.Engine
}

func (l *lockedVoiceprint) CreateTemplate(pcm []byte, sampleRate int) (voiceprint.Template, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e.CreateTemplate(pcm, sampleRate)
}

func (l *lockedVoiceprint) MergeTemplates(ts []voiceprint.Template) (voiceprint.Template, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e.MergeTemplates(ts)
}

func (l *lockedVoiceprint) LoadTemplate(data []byte) (voiceprint.Template, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e.LoadTemplate(data)
}

func (l *lockedVoiceprint) Match(a, b voiceprint.Template) (voiceprint.MatchResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e.Match(a, b)
}

func (l *lockedVoiceprint) NewVerifyStream(ts []voiceprint.Template, sampleRate int, windowSeconds float32) (voiceprint.VerifyStream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.e.NewVerifyStream(ts, sampleRate, windowSeconds)
	if err != nil {
		return nil, err
	}
	return &lockedVerifyStream{mu: l.mu, s: s}, nil
}

type lockedVerifyStream struct {
	mu *sync.Mutex
	s  voiceprint.VerifyStream
}

func (l *lockedVerifyStream) AddSamples(pcm []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.AddSamples(pcm)
}

func (l *lockedVerifyStream) HasResult() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.HasResult()
}

func (l *lockedVerifyStream) DrainResult() (voiceprint.VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.DrainResult()
}

func (l *lockedVerifyStream) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Reset()
}

type lockedQuality struct {
	mu *sync.Mutex
	c  quality.Checker
}

func (l *lockedQuality) CheckQuality(pcm []byte, sampleRate int, t quality.Thresholds) (quality.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.CheckQuality(pcm, sampleRate, t)
}

type lockedLiveness struct {
	mu *sync.Mutex
	c  liveness.Checker
}

func (l *lockedLiveness) CheckLiveness(pcm []byte, sampleRate int) (liveness.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.CheckLiveness(pcm, sampleRate)
}

type lockedSNR struct {
	mu *sync.Mutex
	c  snr.Computer
}

func (l *lockedSNR) ComputeSNR(pcm []byte, sampleRate int) (float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.ComputeSNR(pcm, sampleRate)
}

type lockedVAD struct {
	mu *sync.Mutex
	e  vad.Engine
}

func (l *lockedVAD) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.e.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &lockedVADSession{mu: l.mu, s: s}, nil
}

type lockedVADSession struct {
	mu *sync.Mutex
	s  vad.SessionHandle
}

func (l *lockedVADSession) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.ProcessFrame(frame)
}

func (l *lockedVADSession) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s.Reset()
}

func (l *lockedVADSession) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Close()
}

var (
	_ speech.Engine           = (*lockedSpeech)(nil)
	_ speech.Stream           = (*lockedStream)(nil)
	_ voiceprint.Engine       = (*lockedVoiceprint)(nil)
	_ voiceprint.VerifyStream = (*lockedVerifyStream)(nil)
	_ quality.Checker         = (*lockedQuality)(nil)
	_ liveness.Checker        = (*lockedLiveness)(nil)
	_ snr.Computer            = (*lockedSNR)(nil)
	_ vad.Engine              = (*lockedVAD)(nil)
	_ vad.SessionHandle       = (*lockedVADSession)(nil)
)

// ── Call instrumentation ─────────────────────────────────────────────────────

// calls times engine calls and wraps their failures in EngineCallError.
type calls struct {
	ctx     context.Context
	metrics *observe.Metrics
}

func (c calls) do(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.metrics.RecordEngineCall(ctx, op, start, err)
	if err != nil {
		return &EngineCallError{Op: op, Err: err}
	}
	return nil
}
