package recorder

import (
	"errors"
	"fmt"
)

// VerificationMode selects the biometric flavour of a session.
type VerificationMode int

const (
	TextDependent VerificationMode = iota
	TextIndependent
	Continuous
)

var verificationModeNames = [...]string{
	TextDependent:   "text_dependent",
	TextIndependent: "text_independent",
	Continuous:      "continuous",
}

func (m VerificationMode) String() string {
	if m >= 0 && int(m) < len(verificationModeNames) {
		return verificationModeNames[m]
	}
	return fmt.Sprintf("verification_mode(%d)", int(m))
}

// TemplateKey returns the stable storage key of the enrolled template the
// mode verifies against. Continuous verification scores against the
// text-independent enrollment.
func (m VerificationMode) TemplateKey() string {
	if m == TextDependent {
		return "text_dependent_voice_template"
	}
	return "text_independent_voice_template"
}

// ParseVerificationMode parses the String form of a VerificationMode.
func ParseVerificationMode(s string) (VerificationMode, error) {
	for i, name := range verificationModeNames {
		if s == name {
			return VerificationMode(i), nil
		}
	}
	return 0, fmt.Errorf("recorder: unknown verification mode %q", s)
}

// RecordingMode says whether a session feeds enrollment or verification.
type RecordingMode int

const (
	Enrollment RecordingMode = iota
	Verification
)

func (m RecordingMode) String() string {
	switch m {
	case Enrollment:
		return "enrollment"
	case Verification:
		return "verification"
	default:
		return fmt.Sprintf("recording_mode(%d)", int(m))
	}
}

// ParseRecordingMode parses the String form of a RecordingMode.
func ParseRecordingMode(s string) (RecordingMode, error) {
	switch s {
	case "enrollment":
		return Enrollment, nil
	case "verification":
		return Verification, nil
	default:
		return 0, fmt.Errorf("recorder: unknown recording mode %q", s)
	}
}

// EndDetection selects which detector is authoritative for ending an
// utterance. Exactly one is used per session.
type EndDetection int

const (
	// EndBySummary stops once enough speech has been followed by enough
	// trailing silence, both as reported by the speech-statistics stream.
	EndBySummary EndDetection = iota

	// EndByEndpoint stops when a frame-level VAD reports the end of speech.
	EndByEndpoint
)

func (d EndDetection) String() string {
	switch d {
	case EndBySummary:
		return "summary"
	case EndByEndpoint:
		return "endpoint"
	default:
		return fmt.Sprintf("end_detection(%d)", int(d))
	}
}

// ParseEndDetection parses the String form of an EndDetection.
func ParseEndDetection(s string) (EndDetection, error) {
	switch s {
	case "summary", "":
		return EndBySummary, nil
	case "endpoint":
		return EndByEndpoint, nil
	default:
		return 0, fmt.Errorf("recorder: unknown end detection %q", s)
	}
}

// Thresholds govern when an utterance stops or is abandoned.
type Thresholds struct {
	// MinSpeechLengthMs is the speech needed before a segment may stop.
	MinSpeechLengthMs float32

	// MaxSilenceLengthMs is the trailing silence that confirms the end of
	// an utterance.
	MaxSilenceLengthMs float32

	// SilenceResetThresholdMs is the silence after which the segment is
	// abandoned and restarted in place. It must exceed MaxSilenceLengthMs.
	SilenceResetThresholdMs float32
}

// Validate checks value ranges and the silence ordering.
func (t Thresholds) Validate() error {
	var errs []error
	if t.MinSpeechLengthMs <= 0 {
		errs = append(errs, fmt.Errorf("min speech length must be positive, got %v", t.MinSpeechLengthMs))
	}
	if t.MaxSilenceLengthMs <= 0 {
		errs = append(errs, fmt.Errorf("max silence length must be positive, got %v", t.MaxSilenceLengthMs))
	}
	if t.SilenceResetThresholdMs <= t.MaxSilenceLengthMs {
		errs = append(errs, fmt.Errorf("silence reset threshold %vms must exceed max silence length %vms",
			t.SilenceResetThresholdMs, t.MaxSilenceLengthMs))
	}
	return errors.Join(errs...)
}

// Decision is the outcome of processing one buffer.
type Decision int

const (
	// DecisionIgnored means the buffer arrived while the session was not
	// recording.
	DecisionIgnored Decision = iota
	DecisionContinue
	// DecisionReset means the segment was abandoned in place and recording
	// goes on.
	DecisionReset
	// DecisionStop means a segment was emitted and the session is idle.
	DecisionStop
	// DecisionLongSilence means the session ended in long silence.
	DecisionLongSilence
)

func (d Decision) String() string {
	switch d {
	case DecisionIgnored:
		return "ignored"
	case DecisionContinue:
		return "continue"
	case DecisionReset:
		return "reset"
	case DecisionStop:
		return "stop"
	case DecisionLongSilence:
		return "long_silence"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Policy is the stop/reset rule set of a session. It is one of
// [UtterancePolicy], [ChunkedPolicy] or [ContinuousPolicy].
type Policy interface {
	policy()
}

// UtterancePolicy ends a single utterance. It governs text-dependent
// sessions and text-independent verification.
type UtterancePolicy struct {
	Thresholds   Thresholds
	EndDetection EndDetection
}

// Decide applies the rule table to s. endpoint reports whether the endpoint
// detector has seen the end of speech; it is ignored under EndBySummary.
func (p UtterancePolicy) Decide(s Snapshot, endpoint bool) Decision {
	if s.BackgroundMs > p.Thresholds.SilenceResetThresholdMs {
		return DecisionReset
	}
	if s.SpeechMs < p.Thresholds.MinSpeechLengthMs {
		return DecisionContinue
	}
	switch p.EndDetection {
	case EndByEndpoint:
		if endpoint {
			return DecisionStop
		}
	default:
		if s.BackgroundMs >= p.Thresholds.MaxSilenceLengthMs {
			return DecisionStop
		}
	}
	return DecisionContinue
}

// ChunkedPolicy delegates text-independent enrollment to a ChunkCollector.
type ChunkedPolicy struct {
	Chunk ChunkSettings
}

// ContinuousPolicy never stops on its own; it streams scores until the
// session is aborted.
type ContinuousPolicy struct {
	Continuous ContinuousSettings
}

func (UtterancePolicy) policy()  {}
func (ChunkedPolicy) policy()    {}
func (ContinuousPolicy) policy() {}

// PolicySettings carries the per-kind parameters NewPolicy picks from.
type PolicySettings struct {
	Utterance    Thresholds
	EndDetection EndDetection
	Chunk        ChunkSettings
	Continuous   ContinuousSettings
}

// NewPolicy computes the policy for a (verification, recording) mode pair and
// validates the parameters it uses.
func NewPolicy(vm VerificationMode, rm RecordingMode, s PolicySettings) (Policy, error) {
	switch {
	case vm == TextDependent, vm == TextIndependent && rm == Verification:
		if err := s.Utterance.Validate(); err != nil {
			return nil, fmt.Errorf("recorder: %s %s thresholds: %w", vm, rm, err)
		}
		return UtterancePolicy{Thresholds: s.Utterance, EndDetection: s.EndDetection}, nil
	case vm == TextIndependent && rm == Enrollment:
		if err := s.Chunk.Validate(); err != nil {
			return nil, fmt.Errorf("recorder: chunk settings: %w", err)
		}
		return ChunkedPolicy{Chunk: s.Chunk}, nil
	case vm == Continuous && rm == Verification:
		if err := s.Continuous.Validate(); err != nil {
			return nil, fmt.Errorf("recorder: continuous settings: %w", err)
		}
		return ContinuousPolicy{Continuous: s.Continuous}, nil
	default:
		return nil, fmt.Errorf("recorder: no policy for %s %s", vm, rm)
	}
}
