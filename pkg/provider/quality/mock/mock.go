// Package mock provides a test double for quality.Checker.
//
// Results are consumed in order, one per call; once exhausted the last entry
// repeats. With no results configured every check returns quality.OK.
package mock

import (
	"sync"

	"github.com/MrWong99/voxkey/pkg/provider/quality"
)

// CheckCall records a single invocation of Checker.CheckQuality.
type CheckCall struct {
	// Audio is a copy of the checked payload.
	Audio      []byte
	SampleRate int
	Thresholds quality.Thresholds
}

// Checker is a mock implementation of quality.Checker.
type Checker struct {
	mu sync.Mutex

	// Results is consumed one entry per call.
	Results []quality.Result

	// Err, if non-nil, is returned by CheckQuality.
	Err error

	// Calls records every call to CheckQuality in order.
	Calls []CheckCall
}

// CheckQuality records the call and returns the next scripted result.
func (c *Checker) CheckQuality(pcm []byte, sampleRate int, t quality.Thresholds) (quality.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	c.Calls = append(c.Calls, CheckCall{Audio: cp, SampleRate: sampleRate, Thresholds: t})
	if c.Err != nil {
		return quality.Result{}, c.Err
	}
	if len(c.Results) == 0 {
		return quality.Result{ShortDescription: quality.OK}, nil
	}
	idx := min(len(c.Calls)-1, len(c.Results)-1)
	return c.Results[idx], nil
}

// CallCount returns the number of recorded calls.
func (c *Checker) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

var _ quality.Checker = (*Checker)(nil)
