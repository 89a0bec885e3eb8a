package recorder

import "github.com/MrWong99/voxkey/pkg/audio"

// Accumulator owns the raw audio of the current segment. It is append-only
// apart from a full reset, and never aliases the buffers passed to Append.
//
// A positive limit turns it into a ring that keeps only the most recent limit
// bytes; continuous sessions use this so audio does not grow without bound.
type Accumulator struct {
	data  []byte
	limit int
}

// Append copies pcm onto the end of the segment.
func (a *Accumulator) Append(pcm []byte) {
	a.data = append(a.data, pcm...)
	if a.limit > 0 && len(a.data) > a.limit {
		drop := len(a.data) - a.limit
		drop += drop % audio.BytesPerSample
		a.data = append(a.data[:0], a.data[drop:]...)
	}
}

// Bytes returns the accumulated audio. The slice is only valid until the next
// Append, Reset or Detach.
func (a *Accumulator) Bytes() []byte { return a.data }

// Len returns the number of accumulated bytes.
func (a *Accumulator) Len() int { return len(a.data) }

// DurationMs returns the accumulated duration at sampleRate.
func (a *Accumulator) DurationMs(sampleRate int) float32 {
	return audio.DurationMs(len(a.data), sampleRate)
}

// Reset discards the accumulated audio, keeping capacity for reuse.
func (a *Accumulator) Reset() { a.data = a.data[:0] }

// Detach hands the accumulated audio to the caller and leaves the
// accumulator empty. The caller owns the returned slice.
func (a *Accumulator) Detach() []byte {
	d := a.data
	a.data = nil
	return d
}
