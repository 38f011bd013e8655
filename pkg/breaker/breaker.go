// Package breaker implements a per-provider circuit breaker. The state
// machine only moves closed -> open -> half-open -> closed; there is no
// direct open -> closed transition without a half-open trial.
package breaker

import (
	"sync"
	"time"
)

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config for a Breaker. Zero values get defaults.
type Config struct {
	// Threshold is how many consecutive counted failures open the breaker.
	Threshold int
	// Timeout is how long the breaker stays open before admitting one trial.
	Timeout time.Duration
	// Classify reports whether an error counts as a failure. When nil every
	// error counts. Rate-limit responses are typically excluded here.
	Classify func(error) bool
	// OnTransition, if set, is called with the new state after each change.
	OnTransition func(State)
}

// Breaker tracks consecutive failures for one dependency.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	trialActive bool

	now func() time.Time // overridable for tests
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns false
// until Timeout has elapsed, then admits exactly one trial call (half-open).
// Further callers are rejected until that trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Timeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.trialActive = true
		return true
	case StateHalfOpen:
		if b.trialActive {
			return false
		}
		b.trialActive = true
		return true
	}
	return false
}

// RecordSuccess resets the failure count. A half-open trial success closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialActive = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure counts a failure (subject to Classify). Reaching Threshold
// opens the breaker; a half-open trial failure re-opens it and restarts
// the timeout. An uncounted error during a trial just frees the slot so
// the next caller runs a fresh trial.
func (b *Breaker) RecordFailure(err error) {
	counted := b.cfg.Classify == nil || b.cfg.Classify(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialActive = false
		if !counted {
			return
		}
		b.openedAt = b.now()
		b.transition(StateOpen)
		return
	}
	if !counted {
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// CancelTrial releases the half-open trial slot without recording an
// outcome. Callers use it when an admitted call never reached the
// dependency, such as a rate-limiter timeout. No-op in other states.
func (b *Breaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialActive = false
}

// State returns the current state without admitting a trial.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Timeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// transition must be called with the lock held.
func (b *Breaker) transition(s State) {
	b.state = s
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(s)
	}
}
