// Package mock provides a test double for snr.Computer.
package mock

import (
	"sync"

	"github.com/MrWong99/voxkey/pkg/provider/snr"
)

// ComputeCall records a single invocation of Computer.ComputeSNR.
type ComputeCall struct {
	// Bytes is the length of the payload.
	Bytes      int
	SampleRate int
}

// Computer is a mock implementation of snr.Computer.
type Computer struct {
	mu sync.Mutex

	// SNR is returned by every ComputeSNR call.
	SNR float32

	// Err, if non-nil, is returned by ComputeSNR.
	Err error

	// Calls records every call to ComputeSNR in order.
	Calls []ComputeCall
}

// ComputeSNR records the call and returns SNR, Err.
func (c *Computer) ComputeSNR(pcm []byte, sampleRate int) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, ComputeCall{Bytes: len(pcm), SampleRate: sampleRate})
	if c.Err != nil {
		return 0, c.Err
	}
	return c.SNR, nil
}

// CallCount returns the number of recorded calls.
func (c *Computer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

var _ snr.Computer = (*Computer)(nil)
