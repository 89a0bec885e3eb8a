// Package dsp holds the signal math shared by the built-in reference engines:
// PCM16 decoding, per-frame energy, a radix-2 FFT and a mel filterbank.
//
// Nothing here models a voice; the reference engines built on it give stable,
// deterministic numbers so the session logic can run end to end without a
// proprietary biometric SDK.
package dsp

import (
	"encoding/binary"
	"math"
	"slices"
)

// FrameMs is the analysis frame length used by every reference engine.
const FrameMs = 20

// SilenceFloorDB is the level reported for digital silence.
const SilenceFloorDB = -96.0

// FrameSamples returns the number of samples in one analysis frame.
func FrameSamples(sampleRate int) int {
	return sampleRate * FrameMs / 1000
}

// Float32s decodes PCM16 little-endian into samples normalised to [-1, 1).
func Float32s(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS converts a linear RMS value to decibels relative to full scale, floored
// at [SilenceFloorDB].
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return SilenceFloorDB
	}
	return max(20*math.Log10(rms), SilenceFloorDB)
}

// FrameLevels splits samples into consecutive frames of frameLen and returns
// the dBFS level of each whole frame. A trailing partial frame is ignored.
func FrameLevels(samples []float32, frameLen int) []float64 {
	if frameLen <= 0 {
		return nil
	}
	n := len(samples) / frameLen
	out := make([]float64, n)
	for i := range n {
		out[i] = DBFS(RMS(samples[i*frameLen : (i+1)*frameLen]))
	}
	return out
}

// Percentile returns the p-th percentile (0..100) of values using nearest-rank
// on a sorted copy. It returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
