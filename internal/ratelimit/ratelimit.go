// Package ratelimit implements the Kraken public API call counter.
//
// Every call adds to a shared counter that must stay at or under a tier-derived
// maximum; a background goroutine removes one unit per decay interval.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidTier is returned by New for tiers below 2.
	ErrInvalidTier = errors.New("invalid kraken tier")
	// ErrRateLimitExceeded is returned by Reserve when the budget would overflow.
	ErrRateLimitExceeded = errors.New("api call rate limit exceeded")
)

// Limiter tracks the API call counter for one account tier.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	counter int
	max     int
	decay   time.Duration

	stopOnce  sync.Once
	startOnce sync.Once
	stopCh    chan struct{}
	done      chan struct{}

	// OnChange is called with the new counter after every change, outside the lock.
	OnChange func(counter int)
	// OnReject is called when Reserve refuses a request.
	OnReject func()
}

// Option tweaks a Limiter at construction.
type Option func(*Limiter)

// WithDecayInterval overrides the tier decay interval.
func WithDecayInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.decay = d
		}
	}
}

// New returns a limiter for the given tier: tier 2 allows 15 units decaying one
// every 3s, tiers 3 and 4 allow 20 units decaying one every 2s.
func New(tier int, opts ...Option) (*Limiter, error) {
	var limit int
	var decay time.Duration
	switch {
	case tier > 2:
		limit, decay = 20, 2*time.Second
	case tier == 2:
		limit, decay = 15, 3*time.Second
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}
	l := &Limiter{
		max:    limit,
		decay:  decay,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Reserve adds n to the counter, or fails with ErrRateLimitExceeded leaving the
// counter untouched.
func (l *Limiter) Reserve(n int) error {
	l.mu.Lock()
	if l.counter+n > l.max {
		c := l.counter
		l.mu.Unlock()
		if l.OnReject != nil {
			l.OnReject()
		}
		return fmt.Errorf("%w: counter %d + %d > %d", ErrRateLimitExceeded, c, n, l.max)
	}
	l.counter += n
	c := l.counter
	l.mu.Unlock()

	l.notify(c)
	return nil
}

// Counter returns the current counter value.
func (l *Limiter) Counter() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}

// Max returns the tier maximum.
func (l *Limiter) Max() int { return l.max }

// DecayInterval returns how often one unit is released.
func (l *Limiter) DecayInterval() time.Duration { return l.decay }

// Start launches the decay goroutine. Calling it again is a no-op.
func (l *Limiter) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop terminates the decay goroutine and waits for it to exit.
// Safe to call multiple times, and before Start.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	// A limiter that was never started has no goroutine to close done.
	l.startOnce.Do(func() { close(l.done) })
	<-l.done
}

func (l *Limiter) run() {
	defer close(l.done)
	ticker := time.NewTicker(l.decay)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.release()
		}
	}
}

// release removes one unit, never going below zero.
func (l *Limiter) release() {
	l.mu.Lock()
	if l.counter == 0 {
		l.mu.Unlock()
		return
	}
	l.counter--
	c := l.counter
	l.mu.Unlock()
	l.notify(c)
}

func (l *Limiter) notify(c int) {
	if l.OnChange != nil {
		l.OnChange(c)
	}
}
