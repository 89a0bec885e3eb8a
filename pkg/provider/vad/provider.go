// Package vad defines the frame-level voice activity detector used by the
// endpoint detector.
//
// Sessions that end utterances by endpoint detection instead of the speech
// summary push every buffer through a [SessionHandle], one fixed-size frame
// at a time. An [Engine] is shared; each recording session opens its own
// handle because detectors keep hysteresis state between frames.
package vad

import (
	"errors"
	"fmt"
)

// Config parameterises one detector session.
type Config struct {
	// SampleRate of the PCM16 mono frames, in Hz.
	SampleRate int

	// FrameSizeMs is the exact length of every frame passed to ProcessFrame.
	FrameSizeMs int

	// SpeechThreshold is the probability at which a frame opens speech.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which open speech ends. It
	// must not exceed SpeechThreshold.
	SilenceThreshold float64
}

// FrameBytes returns the byte length of one PCM16 frame, or 0 when the rate
// or frame size is not positive.
func (c Config) FrameBytes() int {
	if c.SampleRate <= 0 || c.FrameSizeMs <= 0 {
		return 0
	}
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate %d must be positive", c.SampleRate))
	}
	if c.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame size %dms must be positive", c.FrameSizeMs))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: speech threshold %v outside [0, 1]", c.SpeechThreshold))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad: silence threshold %v outside [0, %v]", c.SilenceThreshold, c.SpeechThreshold))
	}
	return errors.Join(errs...)
}

// VADEventType classifies one frame.
type VADEventType int

const (
	// VADSpeechStart marks the first speech frame after silence.
	VADSpeechStart VADEventType = iota
	// VADSpeechContinue marks a speech frame inside open speech.
	VADSpeechContinue
	// VADSpeechEnd marks the first silent frame after speech.
	VADSpeechEnd
	// VADSilence marks a silent frame outside speech.
	VADSilence
)

// IsSpeech reports whether the frame belongs to speech.
func (t VADEventType) IsSpeech() bool {
	return t == VADSpeechStart || t == VADSpeechContinue
}

func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return fmt.Sprintf("VADEventType(%d)", int(t))
	}
}

// VADEvent is the detector's verdict for one frame.
type VADEvent struct {
	Type VADEventType

	// Probability of speech in [0, 1].
	Probability float64
}

// SessionHandle is one detector stream. It is not safe for concurrent use.
type SessionHandle interface {
	// ProcessFrame classifies frame, which must be exactly
	// Config.FrameBytes long.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset forgets the hysteresis state.
	Reset()

	// Close releases the session. ProcessFrame fails afterwards; Close may be
	// called again.
	Close() error
}

// Engine opens detector sessions. NewSession may be called concurrently.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
