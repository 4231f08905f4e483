// Package resilience implements the per-adapter isolation
// primitives: a per-operation circuit breaker, a backoff-based retry
// handler (cenkalti/backoff with backoff.Permanent for non-retryable
// errors), a graceful-degradation manager, and a ring-buffer error
// logger.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the breaker's position in its open/closed cycle.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrBreakerOpen is returned by Breaker.Allow when the breaker is open
// and the reset timeout has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: circuit breaker open")

// Breaker is a per-named-operation circuit breaker: it opens after
// threshold consecutive failures, stays open for resetTimeout, then
// turns half-open; a success closes it, a failure re-opens it and
// restarts the timeout.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       BreakerState
	consecutive int
	openedAt    time.Time
}

// NewBreaker constructs a Breaker that opens after threshold
// consecutive failures and stays open for resetTimeout.
func NewBreaker(name string, threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, resetTimeout: resetTimeout, state: StateClosed}
}

// State reports the breaker's current state, transitioning open→
// half-open lazily if resetTimeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		b.state = StateHalfOpen
	}
}

// Allow reports whether a call should be attempted right now. In the
// half-open state it returns true for every caller until RecordSuccess
// closes or RecordFailure re-opens the breaker; the number of calls let
// through while half-open is not limited.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state != StateOpen
}

// RecordSuccess closes the breaker (from closed or half-open) and
// resets the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.state = StateClosed
}

// RecordFailure increments the consecutive-failure count; from closed
// it opens once the count reaches threshold, from half-open a single
// failure re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.openLocked()
		return
	}
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.openLocked()
	}
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.consecutive = 0
}

// Do runs fn if the breaker allows it, recording the outcome. Returns
// ErrBreakerOpen without calling fn when the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrBreakerOpen
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Registry is a named collection of breakers, one per operation, so
// callers don't need to thread *Breaker handles through every layer.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	threshold int
	reset     time.Duration
}

// NewRegistry constructs a Registry whose breakers share threshold and
// resetTimeout unless created directly via NewBreaker.
func NewRegistry(threshold int, resetTimeout time.Duration) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), threshold: threshold, reset: resetTimeout}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.threshold, r.reset)
		r.breakers[name] = b
	}
	return b
}
