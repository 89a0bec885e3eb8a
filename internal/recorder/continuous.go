package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// DefaultNoSpeechBackgroundMs is the trailing silence above which a
// continuous score is displayed as "No Speech".
const DefaultNoSpeechBackgroundMs = 2000

// ContinuousSettings configures continuous verification.
type ContinuousSettings struct {
	// WindowSeconds is the speech length each verification result covers.
	WindowSeconds float32

	// NoSpeechBackgroundMs marks scores taken over longer silences.
	NoSpeechBackgroundMs float32
}

// Validate checks the settings.
func (s ContinuousSettings) Validate() error {
	var errs []error
	if s.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %vs", s.WindowSeconds))
	}
	if s.NoSpeechBackgroundMs < 0 {
		errs = append(errs, fmt.Errorf("no-speech background must not be negative, got %vms", s.NoSpeechBackgroundMs))
	}
	return errors.Join(errs...)
}

// ContinuousScore is one drained verification result.
type ContinuousScore struct {
	Probability  float32
	Percent      float32
	BackgroundMs float32

	// NoSpeech is set when the trailing silence exceeded the no-speech limit,
	// so a low score reflects silence rather than a different speaker.
	NoSpeech bool
}

// ContinuousWindow feeds a sliding-window verifier and emits every result it
// has ready after each buffer. It never stops on its own.
type ContinuousWindow struct {
	stream   voiceprint.VerifyStream
	settings ContinuousSettings
	obs      Observer
	calls    calls
	metrics  *observe.Metrics
}

// NewContinuousWindow wraps stream. A nil obs discards notifications.
func NewContinuousWindow(stream voiceprint.VerifyStream, settings ContinuousSettings, obs Observer) *ContinuousWindow {
	if obs == nil {
		obs = NopObserver{}
	}
	return &ContinuousWindow{stream: stream, settings: settings, obs: obs}
}

// Process appends pcm and drains all ready results in order. backgroundMs is
// the current trailing silence and is forwarded with every score. When a
// drain fails part-way, the scores emitted so far are returned with the error.
func (w *ContinuousWindow) Process(pcm []byte, backgroundMs float32) ([]ContinuousScore, error) {
	if err := w.calls.do("verify_stream.add_samples", func() error { return w.stream.AddSamples(pcm) }); err != nil {
		return nil, err
	}
	var scores []ContinuousScore
	for w.stream.HasResult() {
		var res voiceprint.VerifyResult
		if err := w.calls.do("verify_stream.drain", func() (err error) {
			res, err = w.stream.DrainResult()
			return err
		}); err != nil {
			return scores, err
		}
		sc := ContinuousScore{
			Probability:  res.Probability,
			Percent:      res.Probability * 100,
			BackgroundMs: backgroundMs,
			NoSpeech:     backgroundMs > w.settings.NoSpeechBackgroundMs,
		}
		scores = append(scores, sc)
		w.metrics.RecordContinuousScore(context.Background(), res.Probability)
		w.obs.OnContinuousScore(sc.Percent, sc.BackgroundMs)
	}
	return scores, nil
}

// Reset drops buffered audio and undrained results.
func (w *ContinuousWindow) Reset() error {
	return w.calls.do("verify_stream.reset", w.stream.Reset)
}
