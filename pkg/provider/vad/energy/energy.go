// Package energy implements vad.Engine with an RMS level gate and hysteresis.
//
// The frame level in dBFS is mapped linearly onto a pseudo-probability between
// FloorDB (0) and CeilDB (1). A session enters speech when the probability
// reaches Config.SpeechThreshold and leaves it when the probability drops
// below Config.SilenceThreshold.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxkey/internal/dsp"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
)

// Level range mapped onto [0, 1].
const (
	FloorDB = -60.0
	CeilDB  = -20.0
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: vad session closed")

// Engine implements vad.Engine. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return &session{
		cfg:        cfg,
		frameBytes: cfg.FrameBytes(),
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	cfg        vad.Config
	frameBytes int
	inSpeech   bool
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := Probability(dsp.DBFS(dsp.RMS(dsp.Float32s(frame))))
	ev := vad.VADEvent{Probability: p}
	switch {
	case !s.inSpeech && p >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		ev.Type = vad.VADSpeechStart
	case s.inSpeech && p < s.cfg.SilenceThreshold:
		s.inSpeech = false
		ev.Type = vad.VADSpeechEnd
	case s.inSpeech:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

func (s *session) Reset() { s.inSpeech = false }

func (s *session) Close() error {
	s.closed = true
	return nil
}

// Probability maps a frame level in dBFS onto [0, 1].
func Probability(db float64) float64 {
	return min(max((db-FloorDB)/(CeilDB-FloorDB), 0), 1)
}
