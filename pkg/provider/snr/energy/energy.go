// Package energy estimates SNR from the spread of frame levels: loud frames
// stand in for signal, quiet frames for the noise floor.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxkey/internal/dsp"
	"github.com/MrWong99/voxkey/pkg/provider/snr"
)

// Percentiles of the frame level distribution used as signal and noise.
const (
	SignalPercentile = 80
	NoisePercentile  = 20
)

// MaxSNR caps the estimate so digital silence between words does not produce
// an unbounded figure.
const MaxSNR = 60

// ErrTooShort is returned when the segment holds less than one frame.
var ErrTooShort = errors.New("energy: segment shorter than one analysis frame")

// Computer implements snr.Computer. The zero value is ready to use.
type Computer struct{}

// New returns a Computer.
func New() *Computer { return &Computer{} }

// ComputeSNR implements snr.Computer.
func (c *Computer) ComputeSNR(pcm []byte, sampleRate int) (float32, error) {
	frameLen := dsp.FrameSamples(sampleRate)
	if frameLen <= 0 {
		return 0, fmt.Errorf("energy: unsupported sample rate %d", sampleRate)
	}
	levels := dsp.FrameLevels(dsp.Float32s(pcm), frameLen)
	if len(levels) == 0 {
		return 0, ErrTooShort
	}
	return Estimate(levels), nil
}

// Estimate returns the SNR in dB implied by a set of frame levels in dBFS.
func Estimate(levels []float64) float32 {
	signal := dsp.Percentile(levels, SignalPercentile)
	noise := dsp.Percentile(levels, NoisePercentile)
	return float32(min(max(signal-noise, 0), MaxSNR))
}

var _ snr.Computer = (*Computer)(nil)
