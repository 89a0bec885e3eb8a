// Package resilience guards flaky backends with a three-state circuit breaker.
//
// A [CircuitBreaker] counts consecutive failures of the calls routed through
// [CircuitBreaker.Execute]. Once the count reaches the configured limit the
// breaker opens and rejects calls with [ErrCircuitOpen] until the reset timeout
// has elapsed. It then lets a bounded number of probes through and closes again
// after that many successes in a row.
//
// voxkey wraps the template store in a breaker so that a database outage fails
// requests fast instead of stalling every enrollment and verification.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call until the reset timeout elapses.
	StateOpen

	// StateHalfOpen forwards a limited number of probe calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults applied to zero CircuitBreakerConfig fields.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change notifications.
	Name string `yaml:"name"`

	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int `yaml:"max_failures" validate:"gte=0"`

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout" validate:"gte=0"`

	// HalfOpenMax is both the probe budget and the number of successful probes
	// needed to close the breaker.
	HalfOpenMax int `yaml:"half_open_max" validate:"gte=0"`

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take the
// package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is open or out of probes, and records
// the outcome. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err == nil)
	return err
}

// admit decides whether a call may proceed and whether it counts as a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		from, changed = cb.moveLocked(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.probes++
			probe = true
		}
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return probe, err
}

func (cb *CircuitBreaker) record(probe, ok bool) {
	cb.mu.Lock()
	var (
		from, to State
		changed  bool
	)
	switch {
	case ok && probe:
		if cb.state != StateHalfOpen {
			break
		}
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			to = StateClosed
			from, changed = cb.moveLocked(to)
		}
	case ok:
		cb.failures = 0
	case probe:
		to = StateOpen
		from, changed = cb.moveLocked(to)
	default:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures && cb.state == StateClosed {
			to = StateOpen
			from, changed = cb.moveLocked(to)
		}
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(from, to)
	}
}

// moveLocked switches to s and resets the counters that belong to it.
func (cb *CircuitBreaker) moveLocked(s State) (from State, changed bool) {
	from = cb.state
	if from == s {
		return from, false
	}
	cb.state = s
	cb.probes, cb.successes = 0, 0
	switch s {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	return from, true
}

func (cb *CircuitBreaker) notify(from, to State) {
	if to == StateOpen {
		slog.Warn("resilience: circuit breaker opened", "name", cb.cfg.Name, "from", from.String())
	} else {
		slog.Info("resilience: circuit breaker state change", "name", cb.cfg.Name, "from", from.String(), "to", to.String())
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports StateHalfOpen; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, changed := cb.moveLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	if changed {
		cb.notify(from, StateClosed)
	}
}
