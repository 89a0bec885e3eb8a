// Package energy implements quality.Checker on frame energy and spectral
// centroid statistics.
//
// Checks are applied in a fixed order and the first failure wins: total speech
// length, relative speech length, SNR, then multiple speakers.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/voxkey/internal/dsp"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	snrenergy "github.com/MrWong99/voxkey/pkg/provider/snr/energy"
)

// DefaultThresholdDB is the speech/background frame boundary.
const DefaultThresholdDB = -40.0

// Centroid spread, as a coefficient of variation over speech frames, mapped
// linearly onto a multiple-speaker probability between these bounds.
const (
	centroidSpreadLow  = 0.25
	centroidSpreadHigh = 0.75
)

// Option configures a [Checker].
type Option func(*Checker)

// WithThresholdDB sets the frame level at or above which a frame is speech.
func WithThresholdDB(db float64) Option {
	return func(c *Checker) { c.thresholdDB = db }
}

// Checker implements quality.Checker. It is stateless and safe for concurrent
// use.
type Checker struct {
	thresholdDB float64
}

// New returns a Checker with the given options applied.
func New(opts ...Option) *Checker {
	c := &Checker{thresholdDB: DefaultThresholdDB}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CheckQuality implements quality.Checker.
func (c *Checker) CheckQuality(pcm []byte, sampleRate int, t quality.Thresholds) (quality.Result, error) {
	frameLen := dsp.FrameSamples(sampleRate)
	if frameLen <= 0 {
		return quality.Result{}, fmt.Errorf("energy: unsupported sample rate %d", sampleRate)
	}
	samples := dsp.Float32s(pcm)
	levels := dsp.FrameLevels(samples, frameLen)
	if len(levels) == 0 {
		return quality.Result{ShortDescription: quality.TooSmallSpeechTotalLength}, nil
	}

	spec := dsp.NewSpectrum(sampleRate, frameLen, 1)
	var speechFrames int
	var centroids []float64
	for i, lvl := range levels {
		if lvl < c.thresholdDB {
			continue
		}
		speechFrames++
		centroids = append(centroids, spec.Centroid(samples[i*frameLen:(i+1)*frameLen]))
	}

	res := quality.Result{
		SNRDb:                  snrenergy.Estimate(levels),
		SpeechLengthMs:         float32(speechFrames * dsp.FrameMs),
		SpeechRelativeLength:   float32(speechFrames) / float32(len(levels)),
		MultipleSpeakersChance: speakerChance(centroids),
	}

	switch {
	case res.SpeechLengthMs < t.MinSpeechLengthMs:
		res.ShortDescription = quality.TooSmallSpeechTotalLength
	case res.SpeechRelativeLength < t.MinSpeechRelativeLength:
		res.ShortDescription = quality.TooSmallSpeechRelativeLength
	case res.SNRDb < t.MinSNRDb:
		res.ShortDescription = quality.TooNoisy
	case t.MaxMultipleSpeakersChance > 0 && res.MultipleSpeakersChance > t.MaxMultipleSpeakersChance:
		res.ShortDescription = quality.MultipleSpeakersDetected
	default:
		res.ShortDescription = quality.OK
	}
	return res, nil
}

// speakerChance maps the coefficient of variation of speech-frame centroids to
// a probability in [0, 1].
func speakerChance(centroids []float64) float32 {
	if len(centroids) < 2 {
		return 0
	}
	var mean float64
	for _, c := range centroids {
		mean += c
	}
	mean /= float64(len(centroids))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, c := range centroids {
		variance += (c - mean) * (c - mean)
	}
	cv := math.Sqrt(variance/float64(len(centroids))) / mean
	p := (cv - centroidSpreadLow) / (centroidSpreadHigh - centroidSpreadLow)
	return float32(min(max(p, 0), 1))
}

var _ quality.Checker = (*Checker)(nil)
