package recorder

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxkey/pkg/provider/quality"
)

var (
	// ErrAlreadyRecording is returned by Start when the session is not idle.
	ErrAlreadyRecording = errors.New("recorder: session is already recording")

	// ErrNotRecording is returned by Stop when there is nothing to stop.
	ErrNotRecording = errors.New("recorder: session is not recording")
)

// EngineInitError reports that an engine handle needed by a session could not
// be constructed. It is fatal to starting the session.
type EngineInitError struct {
	Engine string
	Err    error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("recorder: init %s engine: %v", e.Engine, e.Err)
}

func (e *EngineInitError) Unwrap() error { return e.Err }

// EngineCallError reports a failed call into an engine. The session state is
// left unchanged; whether to abort is up to the caller.
type EngineCallError struct {
	Op  string
	Err error
}

func (e *EngineCallError) Error() string {
	return fmt.Sprintf("recorder: %s: %v", e.Op, e.Err)
}

func (e *EngineCallError) Unwrap() error { return e.Err }

// PersistenceError reports a failed template write. It is logged and never
// surfaced into the biometric flow.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("recorder: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QualityKind classifies why a chunk or attempt was rejected.
type QualityKind int

const (
	QualityUndetermined QualityKind = iota
	QualityTooNoisy
	QualityTooSmallSpeechTotalLength
	QualityTooSmallSpeechRelativeLength
	QualityMultipleSpeakers
	QualityTemplateMatchFailed
	QualityNotLive
)

var qualityKindNames = [...]string{
	QualityUndetermined:                 "undetermined",
	QualityTooNoisy:                     "too_noisy",
	QualityTooSmallSpeechTotalLength:    "too_small_speech_total_length",
	QualityTooSmallSpeechRelativeLength: "too_small_speech_relative_length",
	QualityMultipleSpeakers:             "multiple_speakers",
	QualityTemplateMatchFailed:          "template_match_failed",
	QualityNotLive:                      "not_live",
}

func (k QualityKind) String() string {
	if k >= 0 && int(k) < len(qualityKindNames) {
		return qualityKindNames[k]
	}
	return fmt.Sprintf("quality_kind(%d)", int(k))
}

// QualityError is an expected rejection outcome. It is returned as a value,
// never as a Go error, and always carries a user-facing message and icon tag.
type QualityError struct {
	Kind    QualityKind
	Message string
	Icon    string
}

func (q QualityError) String() string {
	return q.Kind.String() + ": " + q.Message
}

// NewQualityError returns the QualityError for kind with its standard message
// and icon.
func NewQualityError(kind QualityKind) QualityError {
	d, ok := qualityDescriptions[kind]
	if !ok {
		d = qualityDescriptions[QualityUndetermined]
	}
	return QualityError{Kind: kind, Message: d.message, Icon: d.icon}
}

// FromShortDescription maps a quality check result onto a rejection. It
// returns false for [quality.OK].
func FromShortDescription(sd quality.ShortDescription) (QualityError, bool) {
	switch sd {
	case quality.OK:
		return QualityError{}, false
	case quality.TooNoisy:
		return NewQualityError(QualityTooNoisy), true
	case quality.TooSmallSpeechTotalLength:
		return NewQualityError(QualityTooSmallSpeechTotalLength), true
	case quality.TooSmallSpeechRelativeLength:
		return NewQualityError(QualityTooSmallSpeechRelativeLength), true
	case quality.MultipleSpeakersDetected:
		return NewQualityError(QualityMultipleSpeakers), true
	default:
		return NewQualityError(QualityUndetermined), true
	}
}
