// Package audio defines the audio buffer type that flows into recording
// sessions and the PCM helpers shared by the engines and the ingest layer.
//
// All audio handled by voxkey is signed 16-bit little-endian PCM, mono. Sample
// rate is carried alongside the data by whoever owns the stream; a [Buffer]
// does not repeat it.
package audio

import "time"

// BytesPerSample is the width of one PCM16 mono sample.
const BytesPerSample = 2

// Common capture rates.
const (
	SampleRate16k = 16000
	SampleRate48k = 48000
)

// Buffer is one capture callback's worth of audio. Buffers are immutable once
// handed to a session; consumers copy what they keep.
type Buffer struct {
	// Data is PCM16 mono, little-endian.
	Data []byte

	// Timestamp is the arrival time of the buffer relative to stream start.
	Timestamp time.Duration
}

// Len returns the number of samples in the buffer.
func (b Buffer) Len() int { return len(b.Data) / BytesPerSample }

// DurationMs returns the duration of n bytes of PCM16 mono audio at sampleRate,
// in milliseconds. It returns 0 for a non-positive sample rate.
func DurationMs(n int, sampleRate int) float32 {
	if sampleRate <= 0 {
		return 0
	}
	return float32(n/BytesPerSample) * 1000 / float32(sampleRate)
}

// BytesForMs returns the byte length of ms milliseconds of PCM16 mono audio at
// sampleRate, rounded down to a whole sample.
func BytesForMs(ms float32, sampleRate int) int {
	if ms <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(ms*float32(sampleRate)/1000) * BytesPerSample
}
