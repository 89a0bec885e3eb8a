// Package mock provides test doubles for the voiceprint package interfaces.
//
// Engine creates [Template] values labelled by call order ("t0", "t1", ...),
// so tests can tell templates apart. Match results, creation errors and
// verify-stream output are scripted per call.
//
//	eng := &mock.Engine{
//	    MatchResults: []voiceprint.MatchResult{{Probability: 0.7}, {Probability: 0.3}},
//	}
package mock

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// Template is a mock voiceprint.Template.
type Template struct {
	// Label identifies the template in assertions.
	Label string

	// SerializeErr, if non-nil, is returned by Serialize.
	SerializeErr error
}

// Serialize returns Label as bytes, or SerializeErr.
func (t *Template) Serialize() ([]byte, error) {
	if t.SerializeErr != nil {
		return nil, t.SerializeErr
	}
	return []byte(t.Label), nil
}

var _ voiceprint.Template = (*Template)(nil)

// MatchCall records a single invocation of Engine.Match.
type MatchCall struct {
	A, B voiceprint.Template
}

// NewVerifyStreamCall records a single invocation of Engine.NewVerifyStream.
type NewVerifyStreamCall struct {
	Templates     []voiceprint.Template
	SampleRate    int
	WindowSeconds float32
}

// Engine is a mock implementation of voiceprint.Engine.
type Engine struct {
	mu sync.Mutex

	// CreateErrs is consumed one entry per CreateTemplate call; a nil entry
	// or an exhausted list means success.
	CreateErrs []error

	// MergeErr, if non-nil, is returned by MergeTemplates.
	MergeErr error

	// LoadErr, if non-nil, is returned by LoadTemplate.
	LoadErr error

	// MatchResults is consumed one entry per Match call; once exhausted the
	// last entry repeats. With no entries Match returns probability 1.
	MatchResults []voiceprint.MatchResult

	// MatchErr, if non-nil, is returned by Match.
	MatchErr error

	// Stream is returned by NewVerifyStream. If nil, a new empty
	// VerifyStream is returned.
	Stream voiceprint.VerifyStream

	// NewVerifyStreamErr, if non-nil, is returned by NewVerifyStream.
	NewVerifyStreamErr error

	// --- Call records ---

	// CreateCalls records the payload length of every CreateTemplate call.
	CreateCalls []int

	// MergeCalls records the templates passed to every MergeTemplates call.
	MergeCalls [][]voiceprint.Template

	// MatchCalls records every call to Match in order.
	MatchCalls []MatchCall

	// LoadCalls records a copy of every payload passed to LoadTemplate.
	LoadCalls [][]byte

	// NewVerifyStreamCalls records every call to NewVerifyStream.
	NewVerifyStreamCalls []NewVerifyStreamCall
}

// CreateTemplate records the call and returns a Template labelled with the
// call index, or the next scripted error.
func (e *Engine) CreateTemplate(pcm []byte, _ int) (voiceprint.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := len(e.CreateCalls)
	e.CreateCalls = append(e.CreateCalls, len(pcm))
	if idx < len(e.CreateErrs) && e.CreateErrs[idx] != nil {
		return nil, e.CreateErrs[idx]
	}
	return &Template{Label: "t" + strconv.Itoa(idx)}, nil
}

// MergeTemplates records the call and returns a Template whose label joins
// the input labels with "+".
func (e *Engine) MergeTemplates(templates []voiceprint.Template) (voiceprint.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.MergeCalls = append(e.MergeCalls, append([]voiceprint.Template(nil), templates...))
	if e.MergeErr != nil {
		return nil, e.MergeErr
	}
	if len(templates) == 0 {
		return nil, errors.New("mock: merge of zero templates")
	}
	labels := make([]string, 0, len(templates))
	for _, t := range templates {
		if mt, ok := t.(*Template); ok {
			labels = append(labels, mt.Label)
		}
	}
	return &Template{Label: strings.Join(labels, "+")}, nil
}

// LoadTemplate records the call and returns a Template labelled with data.
func (e *Engine) LoadTemplate(data []byte) (voiceprint.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LoadCalls = append(e.LoadCalls, append([]byte(nil), data...))
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	return &Template{Label: string(data)}, nil
}

// Match records the call and returns the next scripted result.
func (e *Engine) Match(a, b voiceprint.Template) (voiceprint.MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.MatchCalls = append(e.MatchCalls, MatchCall{A: a, B: b})
	if e.MatchErr != nil {
		return voiceprint.MatchResult{}, e.MatchErr
	}
	if len(e.MatchResults) == 0 {
		return voiceprint.MatchResult{Score: 1, Probability: 1}, nil
	}
	idx := min(len(e.MatchCalls)-1, len(e.MatchResults)-1)
	return e.MatchResults[idx], nil
}

// NewVerifyStream records the call and returns Stream, NewVerifyStreamErr.
func (e *Engine) NewVerifyStream(templates []voiceprint.Template, sampleRate int, windowSeconds float32) (voiceprint.VerifyStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewVerifyStreamCalls = append(e.NewVerifyStreamCalls, NewVerifyStreamCall{
		Templates:     templates,
		SampleRate:    sampleRate,
		WindowSeconds: windowSeconds,
	})
	if e.NewVerifyStreamErr != nil {
		return nil, e.NewVerifyStreamErr
	}
	if e.Stream != nil {
		return e.Stream, nil
	}
	return &VerifyStream{}, nil
}

// MatchCallCount returns the number of recorded Match calls.
func (e *Engine) MatchCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.MatchCalls)
}

var _ voiceprint.Engine = (*Engine)(nil)

// VerifyStream is a scripted mock implementation of voiceprint.VerifyStream.
type VerifyStream struct {
	mu sync.Mutex

	// Batches is consumed one entry per AddSamples call; each batch's results
	// become ready to drain.
	Batches [][]voiceprint.VerifyResult

	// AddSamplesErr, if non-nil, is returned by AddSamples.
	AddSamplesErr error

	// DrainErr, if non-nil, is returned by DrainResult while results remain.
	DrainErr error

	// AddSamplesCallCount is the number of times AddSamples was called.
	AddSamplesCallCount int

	// DrainCallCount is the number of times DrainResult was called.
	DrainCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	ready []voiceprint.VerifyResult
}

// AddSamples records the call and queues the next scripted batch.
func (s *VerifyStream) AddSamples(_ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.AddSamplesCallCount
	s.AddSamplesCallCount++
	if s.AddSamplesErr != nil {
		return s.AddSamplesErr
	}
	if idx < len(s.Batches) {
		s.ready = append(s.ready, s.Batches[idx]...)
	}
	return nil
}

// HasResult reports whether queued results remain.
func (s *VerifyStream) HasResult() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready) > 0
}

// DrainResult pops the oldest queued result.
func (s *VerifyStream) DrainResult() (voiceprint.VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DrainCallCount++
	if len(s.ready) == 0 {
		return voiceprint.VerifyResult{}, voiceprint.ErrNoResult
	}
	if s.DrainErr != nil {
		s.ready = s.ready[1:]
		return voiceprint.VerifyResult{}, s.DrainErr
	}
	r := s.ready[0]
	s.ready = s.ready[1:]
	return r, nil
}

// Reset drops queued results.
func (s *VerifyStream) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.ready = nil
	return nil
}

var _ voiceprint.VerifyStream = (*VerifyStream)(nil)
