// Package audiotest synthesises PCM16 mono test signals.
package audiotest

import (
	"math"

	"github.com/MrWong99/voxkey/pkg/audio"
)

// Tone returns ms milliseconds of a sine at freq Hz with peak amplitude amp
// (0..1) at sampleRate.
func Tone(freq float64, ms int, sampleRate int, amp float64) []byte {
	n := sampleRate * ms / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return audio.Bytes(samples)
}

// Voice returns ms milliseconds of a two-partial tone loud enough to count as
// speech for the energy engines.
func Voice(ms int, sampleRate int) []byte {
	n := sampleRate * ms / 1000
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		v := 0.3*math.Sin(2*math.Pi*180*t) + 0.15*math.Sin(2*math.Pi*720*t)
		samples[i] = int16(v * 32767)
	}
	return audio.Bytes(samples)
}

// Silence returns ms milliseconds of digital silence.
func Silence(ms int, sampleRate int) []byte {
	return make([]byte, sampleRate*ms/1000*audio.BytesPerSample)
}

// Noise returns ms milliseconds of deterministic pseudo-random noise with peak
// amplitude amp (0..1).
func Noise(ms int, sampleRate int, amp float64, seed uint32) []byte {
	n := sampleRate * ms / 1000
	samples := make([]int16, n)
	x := seed | 1
	for i := range samples {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		samples[i] = int16(amp * 32767 * (float64(x)/float64(math.MaxUint32)*2 - 1))
	}
	return audio.Bytes(samples)
}

// Concat joins PCM payloads.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Split cuts pcm into buffers of ms milliseconds; the last may be shorter.
func Split(pcm []byte, ms int, sampleRate int) [][]byte {
	size := sampleRate * ms / 1000 * audio.BytesPerSample
	var out [][]byte
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		out = append(out, pcm[:n])
		pcm = pcm[n:]
	}
	return out
}
