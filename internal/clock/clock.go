// Package clock keeps a process-wide estimate of the exchange's unix time.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRefresh is how long a fetched server time is extrapolated before refetching.
const DefaultRefresh = 60 * time.Second

// TimeSource is the exchange capability used to read the server clock.
type TimeSource interface {
	FetchServerTime(ctx context.Context) (int64, error)
}

// Reserver gates each real fetch against the shared call budget.
type Reserver interface {
	Reserve(n int) error
}

// ServerClock caches the last server time and extrapolates with the local clock
// between refreshes. One instance is shared by every worker.
type ServerClock struct {
	source  TimeSource
	limiter Reserver
	refresh time.Duration
	now     func() time.Time

	mu         sync.Mutex
	serverTime int64
	fetchedAt  time.Time
	fetched    bool

	// OnFetch is called after every successful real fetch.
	OnFetch func()
}

// Option configures a ServerClock.
type Option func(*ServerClock)

// WithNow replaces the local wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *ServerClock) { c.now = now }
}

// New returns a clock that refetches after refresh (DefaultRefresh when <= 0).
func New(source TimeSource, limiter Reserver, refresh time.Duration, opts ...Option) *ServerClock {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	c := &ServerClock{
		source:  source,
		limiter: limiter,
		refresh: refresh,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Now returns the best estimate of the server unix time. A real fetch happens on
// first use and whenever more than the refresh interval has elapsed since the last
// one; the limiter and source errors are returned unchanged (wrapped) to the caller.
func (c *ServerClock) Now(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := c.now()
	if c.fetched && local.Sub(c.fetchedAt) <= c.refresh {
		return c.serverTime + int64(local.Sub(c.fetchedAt)/time.Second), nil
	}

	if err := c.limiter.Reserve(1); err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}
	ts, err := c.source.FetchServerTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}
	c.serverTime = ts
	c.fetchedAt = c.now()
	c.fetched = true
	if c.OnFetch != nil {
		c.OnFetch()
	}
	return ts, nil
}

// Cached returns the last fetched value and whether any fetch has happened.
func (c *ServerClock) Cached() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverTime, c.fetched
}
