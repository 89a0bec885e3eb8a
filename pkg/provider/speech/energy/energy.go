// Package energy provides a speech-statistics engine that classifies fixed
// 20 ms frames as speech when their RMS level is at or above a dBFS threshold.
//
// It has no notion of voice versus other loud sounds. It exists so sessions can
// run end to end with deterministic numbers in tests and in deployments that
// plug a real engine in later.
package energy

import (
	"fmt"

	"github.com/MrWong99/voxkey/internal/dsp"
	"github.com/MrWong99/voxkey/pkg/provider/speech"
)

// DefaultThresholdDB is the speech/background boundary used when none is set.
const DefaultThresholdDB = -40.0

// Option configures an [Engine].
type Option func(*Engine)

// WithThresholdDB sets the frame level, in dBFS, at or above which a frame
// counts as speech.
func WithThresholdDB(db float64) Option {
	return func(e *Engine) { e.thresholdDB = db }
}

// Engine creates energy-based speech-statistics streams. It is stateless and
// safe for concurrent use.
type Engine struct {
	thresholdDB float64
}

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{thresholdDB: DefaultThresholdDB}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewStream implements speech.Engine.
func (e *Engine) NewStream(sampleRate int) (speech.Stream, error) {
	frameLen := dsp.FrameSamples(sampleRate)
	if frameLen <= 0 {
		return nil, fmt.Errorf("energy: unsupported sample rate %d", sampleRate)
	}
	return &Stream{thresholdDB: e.thresholdDB, frameLen: frameLen}, nil
}

var _ speech.Engine = (*Engine)(nil)

// Stream accumulates frame classifications for one audio stream.
type Stream struct {
	thresholdDB float64
	frameLen    int

	pending      []float32
	speechMs     float32
	totalMs      float32
	backgroundMs float32
}

// AddSamples implements speech.Stream.
func (s *Stream) AddSamples(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("energy: odd PCM payload of %d bytes", len(pcm))
	}
	s.pending = append(s.pending, dsp.Float32s(pcm)...)
	for len(s.pending) >= s.frameLen {
		level := dsp.DBFS(dsp.RMS(s.pending[:s.frameLen]))
		s.pending = s.pending[s.frameLen:]
		s.totalMs += dsp.FrameMs
		if level >= s.thresholdDB {
			s.speechMs += dsp.FrameMs
			s.backgroundMs = 0
		} else {
			s.backgroundMs += dsp.FrameMs
		}
	}
	return nil
}

// TotalSpeechInfo implements speech.Stream.
func (s *Stream) TotalSpeechInfo() (speech.SpeechInfo, error) {
	return speech.SpeechInfo{SpeechLengthMs: s.speechMs, TotalLengthMs: s.totalMs}, nil
}

// CurrentBackgroundLengthMs implements speech.Stream.
func (s *Stream) CurrentBackgroundLengthMs() (float32, error) {
	return s.backgroundMs, nil
}

// Reset implements speech.Stream.
func (s *Stream) Reset() error {
	s.pending = s.pending[:0]
	s.speechMs, s.totalMs, s.backgroundMs = 0, 0, 0
	return nil
}

var _ speech.Stream = (*Stream)(nil)
