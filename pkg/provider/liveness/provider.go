// Package liveness defines the Checker interface for anti-spoofing backends.
//
// A liveness check scores how likely a segment is a live human utterance as
// opposed to a replay or synthetic voice. The score is compared against a
// configurable threshold by the caller; the checker itself never rejects.
package liveness

// Result is the outcome of a liveness check.
type Result struct {
	// Probability that the audio is live speech, in [0, 1].
	Probability float32
}

// Checker scores segments for liveness.
//
// Implementations must be safe for concurrent use unless documented otherwise.
type Checker interface {
	// CheckLiveness scores pcm, sampled at sampleRate Hz.
	CheckLiveness(pcm []byte, sampleRate int) (Result, error)
}
