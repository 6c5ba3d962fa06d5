// Package scheduler runs one polling worker per (pair, timeframe). Workers share
// one rate limiter, one server clock and one lock that serialises every
// interaction with the exchange.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"signal-engine/internal/candlestore"
	"signal-engine/internal/indicator"
	"signal-engine/internal/logger"
	"signal-engine/internal/model"
	"signal-engine/internal/ratelimit"
)

// ErrNotIdle is returned by Start on a worker that already ran.
var ErrNotIdle = errors.New("worker is not idle")

// State is the worker lifecycle: IDLE -> RUNNING -> STOPPING -> STOPPED.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}

// Reserver is the shared API call budget.
type Reserver interface {
	Reserve(n int) error
}

// Clock returns the best estimate of the exchange unix time.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// Hooks are optional callbacks, used for metrics.
type Hooks struct {
	OnRetry func(op, reason string)
	OnFeed  func(pair string, tf model.Timeframe, added, ichimoku int)
	OnState func(pair string, tf model.Timeframe, s State)
	OnSleep func(pair string, tf model.Timeframe, d time.Duration)
}

// Deps are shared by every worker of a registry.
type Deps struct {
	Lock    *sync.Mutex
	Limiter Reserver
	Clock   Clock
	Market  model.MarketData
	Engine  *indicator.Engine
	Logger  *slog.Logger
	Hooks   Hooks
}

// Config tunes the polling loop.
type Config struct {
	// APIDelay is the grace added to the server time before a bucket counts as due.
	APIDelay time.Duration
	// RateLimitWait is the pause after a rejected reservation.
	RateLimitWait time.Duration
	// RetryBackoffMax caps an exponential delay between failed fetches.
	// Zero retries immediately.
	RetryBackoffMax time.Duration
	Store           candlestore.Config
}

// DefaultConfig returns a 5s API delay, 1s rate-limit wait and no backoff.
func DefaultConfig() Config {
	return Config{
		APIDelay:      5 * time.Second,
		RateLimitWait: time.Second,
		Store:         candlestore.DefaultConfig(),
	}
}

// Worker polls OHLC candles for one pair and timeframe into its own store.
type Worker struct {
	pair model.Pair
	tf   model.Timeframe
	deps Deps
	cfg  Config
	log  *slog.Logger

	store *candlestore.Store
	since int64 // guarded by deps.Lock

	state      atomic.Int32
	lastUpdate atomic.Int64 // unix nanos of the last successful feed
	stopOnce   sync.Once
	stopCh     chan struct{}
	done       chan struct{}

	retryLog rate.Sometimes
	lateLog  rate.Sometimes
}

// NewWorker builds an idle worker.
func NewWorker(pair model.Pair, tf model.Timeframe, deps Deps, cfg Config) *Worker {
	if deps.Lock == nil {
		deps.Lock = &sync.Mutex{}
	}
	if cfg.APIDelay <= 0 {
		cfg.APIDelay = DefaultConfig().APIDelay
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = DefaultConfig().RateLimitWait
	}
	return &Worker{
		pair:     pair,
		tf:       tf,
		deps:     deps,
		cfg:      cfg,
		log:      logger.Component(deps.Logger, "worker").With("pair", pair.Name, "tf", tf.String()),
		store:    candlestore.New(cfg.Store, deps.Engine),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		retryLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
		lateLog:  rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

func (w *Worker) Pair() model.Pair           { return w.pair }
func (w *Worker) Timeframe() model.Timeframe { return w.tf }
func (w *Worker) State() State               { return State(w.state.Load()) }

// Done is closed once the worker reaches STOPPED.
func (w *Worker) Done() <-chan struct{} { return w.done }

// LastUpdate returns the local time of the last successful feed, zero if none.
func (w *Worker) LastUpdate() time.Time {
	ns := w.lastUpdate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Since returns the polling cursor.
func (w *Worker) Since() int64 {
	w.deps.Lock.Lock()
	defer w.deps.Lock.Unlock()
	return w.since
}

// Snapshot copies the store under the shared lock.
func (w *Worker) Snapshot() candlestore.Snapshot {
	w.deps.Lock.Lock()
	defer w.deps.Lock.Unlock()
	return w.store.Snapshot()
}

// Start moves IDLE to RUNNING and launches the polling goroutine.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("%w: %s %s is %s", ErrNotIdle, w.pair.Name, w.tf, w.State())
	}
	w.notifyState(StateRunning)
	w.log.Info("worker started")
	go w.run(ctx)
	return nil
}

// Stop asks the loop to exit. It returns immediately; wait on Done.
// Stopping an idle worker moves it straight to STOPPED.
func (w *Worker) Stop() {
	if w.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		w.stopOnce.Do(func() { close(w.stopCh) })
		close(w.done)
		w.notifyState(StateStopped)
		return
	}
	if w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		w.notifyState(StateStopping)
	}
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.state.Store(int32(StateStopped))
		w.notifyState(StateStopped)
		w.log.Info("worker stopped")
		close(w.done)
	}()
	for {
		d, ok := w.tick(ctx)
		if !ok {
			return
		}
		if w.deps.Hooks.OnSleep != nil {
			w.deps.Hooks.OnSleep(w.pair.Name, w.tf, d)
		}
		if !w.sleep(ctx, d) {
			return
		}
	}
}

// tick runs one iteration under the shared lock and returns how long to sleep.
// ok is false when the worker was stopped mid-iteration.
func (w *Worker) tick(ctx context.Context) (d time.Duration, ok bool) {
	w.deps.Lock.Lock()
	defer w.deps.Lock.Unlock()

	var serverTime int64
	if !w.retry(ctx, "server_time", func() error {
		ts, err := w.deps.Clock.Now(ctx)
		serverTime = ts
		return err
	}) {
		return 0, false
	}

	tfSeconds := w.tf.Seconds()
	apiDelay := int64(w.cfg.APIDelay / time.Second)
	if w.since+tfSeconds < serverTime+apiDelay {
		if !w.retry(ctx, "ohlc", func() error { return w.feed(ctx) }) {
			return 0, false
		}
	}

	sleep := w.since + tfSeconds - serverTime
	if sleep < 1 {
		w.lateLog.Do(func() {
			w.log.Debug("server late, rechecking soon", "since", w.since, "server_time", serverTime)
		})
		sleep = 2
	}
	return time.Duration(sleep) * time.Second, true
}

// feed performs one reservation and one fetch, then merges the candles.
func (w *Worker) feed(ctx context.Context) error {
	if err := w.deps.Limiter.Reserve(1); err != nil {
		return err
	}
	batch, err := w.deps.Market.FetchOHLC(ctx, w.pair, w.since, w.tf.Minutes())
	if err != nil {
		return err
	}
	w.since = batch.MaxID(w.since)
	before := w.store.IchimokuComputed()
	added := w.store.Update(batch.Candles)
	w.lastUpdate.Store(time.Now().UnixNano())

	if w.deps.Hooks.OnFeed != nil {
		w.deps.Hooks.OnFeed(w.pair.Name, w.tf, added, int(w.store.IchimokuComputed()-before))
	}
	w.log.Debug("fed candles", "received", len(batch.Candles), "added", added, "since", w.since)
	return nil
}

// retry runs fn until it succeeds or the worker stops. Rate-limit rejections wait
// RateLimitWait; transient and malformed failures retry at once, or after a
// capped exponential delay when RetryBackoffMax is set.
func (w *Worker) retry(ctx context.Context, op string, fn func() error) bool {
	backoff := time.Duration(0)
	for attempt := 1; ; attempt++ {
		if w.stopping(ctx) {
			return false
		}
		err := fn()
		if err == nil {
			return true
		}

		reason, wait := "transient", time.Duration(0)
		switch {
		case errors.Is(err, ratelimit.ErrRateLimitExceeded):
			reason, wait = "rate_limited", w.cfg.RateLimitWait
		case errors.Is(err, model.ErrMalformedResponse):
			reason = "malformed"
		}
		if reason != "rate_limited" && w.cfg.RetryBackoffMax > 0 {
			backoff = nextBackoff(backoff, w.cfg.RetryBackoffMax)
			wait = backoff
		}
		if w.deps.Hooks.OnRetry != nil {
			w.deps.Hooks.OnRetry(op, reason)
		}
		w.retryLog.Do(func() {
			w.log.Warn("retrying", "op", op, "reason", reason, "attempt", attempt, "error", err)
		})
		if wait > 0 && !w.sleep(ctx, wait) {
			return false
		}
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	if cur <= 0 {
		cur = 100 * time.Millisecond
	} else {
		cur *= 2
	}
	if cur > ceiling {
		cur = ceiling
	}
	return cur
}

// sleep waits d unless the worker is stopped or ctx is done first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (w *Worker) notifyState(s State) {
	if w.deps.Hooks.OnState != nil {
		w.deps.Hooks.OnState(w.pair.Name, w.tf, s)
	}
}
