package recorder

import (
	"fmt"
	"math/rand/v2"
)

// Icon tags. Names follow the SF Symbols catalogue, which most client UIs can
// map onto their own icon sets.
const (
	IconCheckmark = "checkmark.circle"
	IconWarning   = "exclamationmark.triangle"
	IconNoise     = "waveform.badge.exclamationmark"
	IconMic       = "mic.badge.xmark"
	IconSpeakers  = "person.2.wave.2"
	IconMismatch  = "person.crop.circle.badge.xmark"
	IconSpoof     = "exclamationmark.shield"
)

type qualityDescription struct {
	message string
	icon    string
}

var qualityDescriptions = map[QualityKind]qualityDescription{
	QualityUndetermined:                 {"Could not assess the recording. Please try again.", IconWarning},
	QualityTooNoisy:                     {"Too noisy. Please move to a quieter place.", IconNoise},
	QualityTooSmallSpeechTotalLength:    {"Not enough speech. Please keep talking.", IconMic},
	QualityTooSmallSpeechRelativeLength: {"Too many pauses. Please speak continuously.", IconMic},
	QualityMultipleSpeakers:             {"More than one voice detected.", IconSpeakers},
	QualityTemplateMatchFailed:          {"This recording does not match the previous ones. Please repeat.", IconMismatch},
	QualityNotLive:                      {"Live voice not confirmed. Please speak directly into the microphone.", IconSpoof},
}

// encouragements is the pool accepted chunks draw from.
var encouragements = []string{
	"Great, keep going!",
	"Sounds good, carry on.",
	"Nice and clear. Keep talking.",
	"Perfect, a bit more please.",
	"Well done, keep it up!",
	"Good quality, continue.",
}

// ChunkMessage is user feedback for a single enrollment chunk or attempt.
type ChunkMessage struct {
	Text    string
	IsError bool
	Icon    string
}

// AcceptedMessage picks an encouragement for an accepted chunk. A nil rng
// uses the package-level source.
func AcceptedMessage(rng *rand.Rand) ChunkMessage {
	var i int
	if rng != nil {
		i = rng.IntN(len(encouragements))
	} else {
		i = rand.IntN(len(encouragements))
	}
	return ChunkMessage{Text: encouragements[i], Icon: IconCheckmark}
}

// RejectedMessage renders a rejection for display.
func RejectedMessage(q QualityError) ChunkMessage {
	icon := q.Icon
	if icon == "" {
		icon = IconWarning
	}
	return ChunkMessage{Text: q.Message, IsError: true, Icon: icon}
}

// ProgressMessage reports enrollment progress after an accepted attempt.
func ProgressMessage(created, total int) ChunkMessage {
	return ChunkMessage{
		Text: fmt.Sprintf("Template %d of %d created.", created, total),
		Icon: IconCheckmark,
	}
}

// FormatContinuousScore renders a continuous score for display. Scores taken
// over a trailing silence longer than noSpeechMs read "No Speech".
func FormatContinuousScore(percent, backgroundMs, noSpeechMs float32) string {
	if backgroundMs > noSpeechMs {
		return "No Speech"
	}
	return fmt.Sprintf("%d%%", int(percent))
}
