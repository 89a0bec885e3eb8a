// Package voiceprint defines the Engine interface for voice-template backends.
//
// A voice template is an opaque, fixed-size biometric embedding derived from a
// segment of speech. Engines create templates from audio, merge several
// templates from one enrollment into a single reference, match two templates,
// and run continuous verification over a sliding window of streamed speech.
//
// Templates must survive a [Template.Serialize] / [Factory.LoadTemplate] round
// trip so enrollments can be persisted and reloaded by a later process.
package voiceprint

import "errors"

// ErrNoResult is returned by [VerifyStream.DrainResult] when no result is
// ready.
var ErrNoResult = errors.New("voiceprint: no verification result ready")

// Template is an opaque voice embedding.
type Template interface {
	// Serialize encodes the template in the engine's own format.
	Serialize() ([]byte, error)
}

// Embedder is implemented by templates that expose a dense float vector.
// Stores may index it for similarity search; it is never required.
type Embedder interface {
	Embedding() []float32
}

// MatchResult is the outcome of comparing two templates.
type MatchResult struct {
	// Score is the raw engine similarity, on an engine-specific scale.
	Score float32

	// Probability is the calibrated probability that both templates belong
	// to the same speaker, in [0, 1].
	Probability float32
}

// VerifyResult is one windowed result of a continuous verification stream.
type VerifyResult struct {
	Score       float32
	Probability float32
}

// Factory creates, merges and decodes templates.
type Factory interface {
	// CreateTemplate extracts a template from pcm, sampled at sampleRate Hz.
	CreateTemplate(pcm []byte, sampleRate int) (Template, error)

	// MergeTemplates combines templates from one enrollment into a single
	// reference. Merging a single template returns an equivalent template.
	MergeTemplates(templates []Template) (Template, error)

	// LoadTemplate decodes bytes produced by Template.Serialize.
	LoadTemplate(data []byte) (Template, error)
}

// Matcher compares templates.
type Matcher interface {
	// Match compares a with b. The operation is symmetric.
	Match(a, b Template) (MatchResult, error)
}

// VerifyStream scores streamed audio against enrolled templates.
//
// A VerifyStream is not safe for concurrent use.
type VerifyStream interface {
	// AddSamples feeds PCM16 mono audio at the stream's sample rate.
	AddSamples(pcm []byte) error

	// HasResult reports whether at least one result is ready to drain.
	HasResult() bool

	// DrainResult removes and returns the oldest ready result, or
	// ErrNoResult when none is ready.
	DrainResult() (VerifyResult, error)

	// Reset discards buffered audio and undrained results.
	Reset() error
}

// StreamVerifier creates continuous verification streams.
type StreamVerifier interface {
	// NewVerifyStream returns a stream scoring audio at sampleRate Hz against
	// templates, producing a result per windowSeconds of speech.
	NewVerifyStream(templates []Template, sampleRate int, windowSeconds float32) (VerifyStream, error)
}

// Engine is the full voice-template backend.
//
// Implementations must be safe for concurrent use unless documented otherwise;
// streams created by an engine are owned by their caller.
type Engine interface {
	Factory
	Matcher
	StreamVerifier
}
