// Package mock provides a test double for liveness.Checker.
package mock

import (
	"sync"

	"github.com/MrWong99/voxkey/pkg/provider/liveness"
)

// Checker is a mock implementation of liveness.Checker.
type Checker struct {
	mu sync.Mutex

	// Probabilities is consumed one entry per call; once exhausted the last
	// entry repeats. With no entries every call returns 1.
	Probabilities []float32

	// Err, if non-nil, is returned by CheckLiveness.
	Err error

	// CallCount is the number of times CheckLiveness was called.
	CallCount int
}

// CheckLiveness records the call and returns the next scripted probability.
func (c *Checker) CheckLiveness(_ []byte, _ int) (liveness.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCount++
	if c.Err != nil {
		return liveness.Result{}, c.Err
	}
	if len(c.Probabilities) == 0 {
		return liveness.Result{Probability: 1}, nil
	}
	idx := min(c.CallCount-1, len(c.Probabilities)-1)
	return liveness.Result{Probability: c.Probabilities[idx]}, nil
}

// Calls returns the number of recorded calls.
func (c *Checker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCount
}

var _ liveness.Checker = (*Checker)(nil)
