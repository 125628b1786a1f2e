// Package resilience provides the failure-handling primitives used around
// the conversational pipeline: a three-state circuit breaker for repeated
// backend calls and a per-stage failure tracker that turns repeated
// turn-level errors into a session-ending decision.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the reset
// timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// Closed is the normal operating state, all calls are forwarded.
	Closed State = iota

	// Open means the breaker tripped on consecutive failures. Calls are
	// rejected with [ErrOpen] until the reset timeout elapses.
	Open

	// HalfOpen is the probe state entered after the reset timeout. A limited
	// number of calls are allowed through; if they succeed the breaker
	// closes, otherwise it re-opens.
	HalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 20s.
	ResetTimeout time.Duration

	// ProbeMax is the number of probe calls allowed while half-open.
	// Default: 2.
	ProbeMax int
}

// Breaker implements the three-state circuit breaker pattern around a
// backend call such as transcription or synthesis.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeMax     int

	mu         sync.Mutex
	state      State
	failures   int
	lastFail   time.Time
	probeCalls int
	probeFails int
}

// NewBreaker creates a [Breaker]. Zero-value config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 20 * time.Second
	}
	if cfg.ProbeMax <= 0 {
		cfg.ProbeMax = 2
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probeMax:     cfg.ProbeMax,
		state:        Closed,
	}
}

// Do runs fn if the breaker allows it. In the open state it returns [ErrOpen]
// without calling fn. In the half-open state a limited number of probe calls
// are permitted.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.lastFail) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("breaker probing backend", "name", b.name)
	case HalfOpen:
		if b.probeCalls >= b.probeMax {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFail = time.Now()
	if probing {
		b.probeFails++
		b.state = Open
		b.failures = b.maxFailures
		slog.Warn("breaker re-opened after failed probe", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = Open
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probeMax {
			b.state = Closed
			b.failures = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker closed after successful probes", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current state. If the breaker is open and the
// reset timeout has elapsed, HalfOpen is reported (the actual transition
// happens on the next Do call).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.lastFail) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}
