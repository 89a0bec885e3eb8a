// Package static provides a liveness.Checker that reports a fixed probability.
//
// It is intended for deployments that have no anti-spoofing backend: with the
// default probability of 1 every segment passes the liveness gate, which keeps
// the gate's wiring exercised without inventing a score.
package static

import (
	"fmt"

	"github.com/MrWong99/voxkey/pkg/provider/liveness"
)

// Checker returns the same probability for every segment.
type Checker struct {
	probability float32
}

// New returns a Checker that always reports probability. It fails if
// probability lies outside [0, 1].
func New(probability float32) (*Checker, error) {
	if probability < 0 || probability > 1 {
		return nil, fmt.Errorf("static: probability %v out of range [0, 1]", probability)
	}
	return &Checker{probability: probability}, nil
}

// CheckLiveness implements liveness.Checker.
func (c *Checker) CheckLiveness(pcm []byte, sampleRate int) (liveness.Result, error) {
	if sampleRate <= 0 {
		return liveness.Result{}, fmt.Errorf("static: invalid sample rate %d", sampleRate)
	}
	if len(pcm) == 0 {
		return liveness.Result{}, fmt.Errorf("static: empty segment")
	}
	return liveness.Result{Probability: c.probability}, nil
}

var _ liveness.Checker = (*Checker)(nil)
