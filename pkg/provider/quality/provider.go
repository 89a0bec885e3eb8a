// Package quality defines the Checker interface for audio quality gates.
//
// A quality check classifies a candidate segment with a single
// [ShortDescription]. Everything except [OK] is a rejection; callers map the
// description to a user-facing message. Rejections are ordinary results, not
// errors: an error from CheckQuality means the check itself could not run.
package quality

import "fmt"

// ShortDescription is the one-word verdict of a quality check.
type ShortDescription int

const (
	// OK means the segment satisfies every threshold.
	OK ShortDescription = iota

	// TooNoisy means the SNR is below Thresholds.MinSNRDb.
	TooNoisy

	// TooSmallSpeechTotalLength means the segment contains less speech than
	// Thresholds.MinSpeechLengthMs.
	TooSmallSpeechTotalLength

	// TooSmallSpeechRelativeLength means speech makes up less of the segment
	// than Thresholds.MinSpeechRelativeLength.
	TooSmallSpeechRelativeLength

	// MultipleSpeakersDetected means the probability of more than one voice
	// exceeds Thresholds.MaxMultipleSpeakersChance.
	MultipleSpeakersDetected

	// Undetermined means the checker returned a verdict it cannot classify.
	Undetermined
)

var shortDescriptionNames = map[ShortDescription]string{
	OK:                           "ok",
	TooNoisy:                     "too_noisy",
	TooSmallSpeechTotalLength:    "too_small_speech_total_length",
	TooSmallSpeechRelativeLength: "too_small_speech_relative_length",
	MultipleSpeakersDetected:     "multiple_speakers_detected",
	Undetermined:                 "undetermined",
}

// String returns the snake_case name used in logs, metrics and the API.
func (d ShortDescription) String() string {
	if s, ok := shortDescriptionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("quality(%d)", int(d))
}

// Thresholds bounds an acceptable segment.
type Thresholds struct {
	// MinSNRDb is the lowest acceptable signal-to-noise ratio.
	MinSNRDb float32

	// MinSpeechLengthMs is the least amount of speech the segment must hold.
	MinSpeechLengthMs float32

	// MinSpeechRelativeLength is the lowest acceptable speech/total ratio,
	// in [0, 1].
	MinSpeechRelativeLength float32

	// MaxMultipleSpeakersChance is the highest acceptable probability that
	// more than one speaker is present, in [0, 1].
	MaxMultipleSpeakersChance float32
}

// Result is the outcome of a quality check. The metric fields are
// informational and may be zero for checkers that do not measure them.
type Result struct {
	ShortDescription ShortDescription

	SNRDb                  float32
	SpeechLengthMs         float32
	SpeechRelativeLength   float32
	MultipleSpeakersChance float32
}

// Checker classifies candidate segments.
//
// Implementations must be safe for concurrent use unless documented otherwise.
type Checker interface {
	// CheckQuality evaluates pcm, sampled at sampleRate Hz, against t.
	CheckQuality(pcm []byte, sampleRate int, t Thresholds) (Result, error)
}
