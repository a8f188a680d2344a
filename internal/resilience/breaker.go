// Package resilience provides reliability patterns for external provider calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker protects the generation provider from being hammered while it is
// failing. After maxFailures consecutive failures the circuit opens; once the
// cooldown elapses a single probe call is let through, and its outcome decides
// whether the circuit closes again or reopens.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given cooldown before probing.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open. In half-open state only one
// probe runs at a time; concurrent callers are rejected with ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	if !b.acquire() {
		return ErrCircuitOpen
	}

	err := fn()
	b.settle(err)
	return err
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err != nil {
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.maxFailures {
			b.state = stateOpen
			b.openedAt = b.now()
		}
		return
	}
	b.failures = 0
	b.state = stateClosed
}
