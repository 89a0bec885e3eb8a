// Package mock provides test doubles for the speech package interfaces.
//
// Stream is scripted: each AddSamples call consumes the next [Step] and adds
// its deltas to the running totals, so tests can describe an utterance as a
// list of buffers without synthesising audio.
//
//	stream := &mock.Stream{Steps: []mock.Step{
//	    {SpeechMs: 100, TotalMs: 100},
//	    {TotalMs: 100, BackgroundMs: 100},
//	}}
//	eng := &mock.Engine{Stream: stream}
package mock

import (
	"sync"

	"github.com/MrWong99/voxkey/pkg/provider/speech"
)

// Step describes the effect of one AddSamples call.
type Step struct {
	// SpeechMs is added to the cumulative speech length.
	SpeechMs float32

	// TotalMs is added to the cumulative total length. When zero, the
	// duration is left unchanged.
	TotalMs float32

	// BackgroundMs is the trailing silence length reported after this step.
	BackgroundMs float32
}

// Engine is a mock implementation of speech.Engine.
type Engine struct {
	mu sync.Mutex

	// Stream is returned by NewStream. If nil, a new empty Stream is returned.
	Stream speech.Stream

	// NewStreamErr, if non-nil, is returned as the error from NewStream.
	NewStreamErr error

	// NewStreamCalls records the sample rate of every NewStream call.
	NewStreamCalls []int
}

// NewStream records the call and returns Stream, NewStreamErr.
func (e *Engine) NewStream(sampleRate int) (speech.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewStreamCalls = append(e.NewStreamCalls, sampleRate)
	if e.NewStreamErr != nil {
		return nil, e.NewStreamErr
	}
	if e.Stream != nil {
		return e.Stream, nil
	}
	return &Stream{}, nil
}

var _ speech.Engine = (*Engine)(nil)

// Stream is a scripted mock implementation of speech.Stream.
type Stream struct {
	mu sync.Mutex

	// Steps is consumed one entry per AddSamples call. Once exhausted, further
	// calls add nothing and keep the last background length.
	Steps []Step

	// AddSamplesErr, if non-nil, is returned by every AddSamples call and the
	// step is not consumed.
	AddSamplesErr error

	// InfoErr, if non-nil, is returned by TotalSpeechInfo.
	InfoErr error

	// BackgroundErr, if non-nil, is returned by CurrentBackgroundLengthMs.
	BackgroundErr error

	// ResetErr, if non-nil, is returned by Reset and the totals are kept.
	ResetErr error

	// --- Call records ---

	// AddSamplesCalls records a copy of every payload passed to AddSamples.
	AddSamplesCalls [][]byte

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	next       int
	info       speech.SpeechInfo
	background float32
}

// AddSamples records the payload and applies the next scripted step.
func (s *Stream) AddSamples(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.AddSamplesCalls = append(s.AddSamplesCalls, cp)
	if s.AddSamplesErr != nil {
		return s.AddSamplesErr
	}
	if s.next >= len(s.Steps) {
		return nil
	}
	st := s.Steps[s.next]
	s.next++
	s.info.SpeechLengthMs += st.SpeechMs
	s.info.TotalLengthMs += max(st.TotalMs, st.SpeechMs)
	s.background = st.BackgroundMs
	return nil
}

// TotalSpeechInfo returns the accumulated totals.
func (s *Stream) TotalSpeechInfo() (speech.SpeechInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InfoErr != nil {
		return speech.SpeechInfo{}, s.InfoErr
	}
	return s.info, nil
}

// CurrentBackgroundLengthMs returns the background length of the last step.
func (s *Stream) CurrentBackgroundLengthMs() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BackgroundErr != nil {
		return 0, s.BackgroundErr
	}
	return s.background, nil
}

// Reset zeroes the totals. The step cursor is not rewound.
func (s *Stream) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	if s.ResetErr != nil {
		return s.ResetErr
	}
	s.info = speech.SpeechInfo{}
	s.background = 0
	return nil
}

// Consumed reports how many steps have been applied.
func (s *Stream) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

var _ speech.Stream = (*Stream)(nil)
