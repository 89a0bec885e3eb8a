// Package mock provides scripted doubles for the vad contracts.
//
// Session replays Events one frame at a time and then repeats Default, so an
// endpoint test can describe an utterance as a short event list:
//
//	sess := &mock.Session{
//	    Events:  []vad.VADEvent{{Type: vad.VADSpeechStart}, {Type: vad.VADSpeechContinue}},
//	    Default: vad.VADEvent{Type: vad.VADSilence},
//	}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/voxkey/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine hands out Session, or a silent session when Session is nil.
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	// NewSessionCalls holds each requested config in call order.
	NewSessionCalls []vad.Config
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{Default: vad.VADEvent{Type: vad.VADSilence}}, nil
}

// Session classifies the n-th frame as Events[n], or Default past the end.
// The zero Default is a speech start, so scripts that run long should set it.
type Session struct {
	mu sync.Mutex

	Events          []vad.VADEvent
	Default         vad.VADEvent
	ProcessFrameErr error
	CloseErr        error

	frames         int
	ResetCallCount int
	CloseCallCount int
}

func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.frames
	s.frames++
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	if n < len(s.Events) {
		return s.Events[n], nil
	}
	return s.Default, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// FrameCount reports how many frames ProcessFrame has seen.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
