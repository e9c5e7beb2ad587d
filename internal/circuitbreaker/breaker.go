// Package circuitbreaker guards the accounts API with a
// closed/open/half-open breaker. An open breaker turns into an immediate
// upstream failure, which callers of the engine treat as the signal to
// fall back to direct RPC sourcing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateHalfOpen              // probing whether the upstream recovered
	StateOpen                  // rejecting calls
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a breaker. Zero values take the defaults.
type Config struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	SuccessThreshold int           // successes in half-open before closing (default 2)
	OpenTimeout      time.Duration // how long to stay open before probing (default 30s)
	OnStateChange    func(from, to State)
}

// Breaker is a minimal circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	state         State
	failures      int
	probeSuccess  int
	lastFailureAt time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed. An open breaker transitions to
// half-open once the open timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		if time.Since(b.lastFailureAt) <= b.cfg.OpenTimeout {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.probeSuccess++
		if b.probeSuccess >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed call. A half-open breaker re-opens on the
// first failure; a closed breaker opens after FailureThreshold consecutive
// failures.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probeSuccess = 0
	b.lastFailureAt = time.Now()
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.cfg.FailureThreshold) {
		b.transition(StateOpen)
	}
}

// CurrentState returns the breaker state, applying the open→half-open
// timeout transition if due.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailureAt) > b.cfg.OpenTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probeSuccess = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
