package recorder

import "github.com/MrWong99/voxkey/pkg/provider/speech"

// Snapshot is the tracker's view of the current segment after the most recent
// successful update.
type Snapshot struct {
	SpeechMs     float32
	TotalMs      float32
	BackgroundMs float32
}

// Tracker wraps a speech-statistics stream and keeps the latest snapshot.
// A failed update leaves the previous snapshot in place.
type Tracker struct {
	stream speech.Stream
	calls  calls
	last   Snapshot
}

// NewTracker returns a Tracker reading from stream.
func NewTracker(stream speech.Stream) *Tracker {
	return &Tracker{stream: stream}
}

// Update feeds pcm to the stream and refreshes the snapshot.
func (t *Tracker) Update(pcm []byte) (Snapshot, error) {
	if err := t.calls.do("speech.add_samples", func() error { return t.stream.AddSamples(pcm) }); err != nil {
		return t.last, err
	}
	var info speech.SpeechInfo
	if err := t.calls.do("speech.total_speech_info", func() (err error) {
		info, err = t.stream.TotalSpeechInfo()
		return err
	}); err != nil {
		return t.last, err
	}
	var bg float32
	if err := t.calls.do("speech.background_length", func() (err error) {
		bg, err = t.stream.CurrentBackgroundLengthMs()
		return err
	}); err != nil {
		return t.last, err
	}
	t.last = Snapshot{SpeechMs: info.SpeechLengthMs, TotalMs: info.TotalLengthMs, BackgroundMs: bg}
	return t.last, nil
}

// Snapshot returns the latest snapshot.
func (t *Tracker) Snapshot() Snapshot { return t.last }

// Reset clears the stream and the snapshot.
func (t *Tracker) Reset() error {
	if err := t.calls.do("speech.reset", t.stream.Reset); err != nil {
		return err
	}
	t.last = Snapshot{}
	return nil
}
