// Package speech defines the Engine interface for speech-statistics backends.
//
// A speech-statistics engine classifies incoming PCM as speech or background
// and keeps running totals per stream: how much speech has been heard since the
// last reset, how much audio in total, and how long the most recent silence run
// is. Recording sessions use these numbers to decide when an utterance is
// complete, when to abandon a segment during long silence, and when a chunk of
// enrollment audio is long enough to be quality-checked.
//
// Streams are stateful and owned by exactly one session. Engines must be safe
// for concurrent use across streams.
package speech

// SpeechInfo is a snapshot of cumulative speech and total audio duration since
// the stream's last reset. SpeechLengthMs never exceeds TotalLengthMs.
type SpeechInfo struct {
	SpeechLengthMs float32
	TotalLengthMs  float32
}

// Stream accumulates statistics for a single audio stream.
//
// A Stream is not safe for concurrent use.
type Stream interface {
	// AddSamples feeds PCM16 mono little-endian audio at the stream's sample
	// rate. Partial frames are buffered until enough samples arrive.
	AddSamples(pcm []byte) error

	// TotalSpeechInfo returns cumulative speech and total audio length since
	// the last reset. Between resets SpeechLengthMs is non-decreasing.
	TotalSpeechInfo() (SpeechInfo, error)

	// CurrentBackgroundLengthMs returns the length of the current trailing
	// silence run. It drops to zero as soon as speech is detected again.
	CurrentBackgroundLengthMs() (float32, error)

	// Reset clears all accumulated statistics and buffered samples.
	Reset() error
}

// Engine creates speech-statistics streams.
type Engine interface {
	// NewStream returns a fresh stream for audio at sampleRate Hz. It fails if
	// the rate is unsupported or the engine cannot allocate a stream.
	NewStream(sampleRate int) (Stream, error)
}
