// Package snr defines the Computer interface for signal-to-noise estimators.
//
// The SNR of a finished segment is attached to its AudioMetrics and, for
// chunked enrollment, computed once over the merged audio when enough speech
// has been collected.
package snr

// Computer estimates the signal-to-noise ratio of a PCM16 mono segment.
//
// Implementations must be safe for concurrent use unless documented otherwise.
type Computer interface {
	// ComputeSNR returns the SNR of pcm, sampled at sampleRate Hz, in decibels.
	ComputeSNR(pcm []byte, sampleRate int) (float32, error)
}
