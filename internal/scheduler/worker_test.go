package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/model"
	"signal-engine/internal/ratelimit"
)

type fixedClock struct{ ts int64 }

func (c *fixedClock) Now(ctx context.Context) (int64, error) { return c.ts, nil }

type countingLimiter struct {
	mu       sync.Mutex
	reserved int
	failures int // reservations to reject before accepting
}

func (l *countingLimiter) Reserve(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return ratelimit.ErrRateLimitExceeded
	}
	l.reserved += n
	return nil
}

// fakeMarket returns scripted errors first, then a batch built by next.
type fakeMarket struct {
	mu     sync.Mutex
	calls  []int64 // since of every FetchOHLC call
	errs   []error
	next   func(since int64) model.OHLCBatch
	always error
}

func (m *fakeMarket) FetchOHLC(ctx context.Context, pair model.Pair, since int64, interval int) (model.OHLCBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, since)
	if m.always != nil {
		return model.OHLCBatch{}, m.always
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return model.OHLCBatch{}, err
	}
	if m.next == nil {
		return model.OHLCBatch{}, nil
	}
	return m.next(since), nil
}

func (m *fakeMarket) FetchServerTime(ctx context.Context) (int64, error) { return 0, nil }

func (m *fakeMarket) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func batchOf(ids ...int64) model.OHLCBatch {
	b := model.OHLCBatch{}
	for _, id := range ids {
		b.Candles = append(b.Candles, model.Candle{ID: id, Time: id, Open: 1, High: 2, Low: 0.5, Close: 1.5})
	}
	return b
}

func newTestWorker(tf model.Timeframe, clk Clock, lim Reserver, market model.MarketData) *Worker {
	cfg := DefaultConfig()
	cfg.RateLimitWait = 10 * time.Millisecond
	return NewWorker(model.NewPair("XBT", "EUR", ""), tf, Deps{
		Lock:    &sync.Mutex{},
		Limiter: lim,
		Clock:   clk,
		Market:  market,
	}, cfg)
}

func TestTick_Scheduling(t *testing.T) {
	tests := []struct {
		name       string
		since      int64
		serverTime int64
		returned   []int64
		fetches    int
		wantSince  int64
		wantSleep  time.Duration
	}{
		// 940+60 < 1000+5: the bucket at 1000 is due.
		{name: "due bucket fetched", since: 940, serverTime: 1000, returned: []int64{1000}, fetches: 1, wantSince: 1000, wantSleep: 60 * time.Second},
		// 1000+60 >= 1005: nothing due yet.
		{name: "not due", since: 1000, serverTime: 1000, fetches: 0, wantSince: 1000, wantSleep: 60 * time.Second},
		// due, but the exchange has nothing newer: sleep is negative and clamps to 2s.
		{name: "server late", since: 1000, serverTime: 1062, returned: []int64{1000}, fetches: 1, wantSince: 1000, wantSleep: 2 * time.Second},
		{name: "empty batch keeps cursor", since: 1000, serverTime: 1070, fetches: 1, wantSince: 1000, wantSleep: 2 * time.Second},
		{name: "catch up several buckets", since: 820, serverTime: 1010, returned: []int64{880, 940, 1000}, fetches: 1, wantSince: 1000, wantSleep: 50 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			market := &fakeMarket{}
			if tc.returned != nil {
				market.next = func(int64) model.OHLCBatch { return batchOf(tc.returned...) }
			}
			lim := &countingLimiter{}
			w := newTestWorker(1, &fixedClock{ts: tc.serverTime}, lim, market)
			w.since = tc.since

			d, ok := w.tick(context.Background())
			if !ok {
				t.Fatal("tick reported stop")
			}
			if d != tc.wantSleep {
				t.Errorf("sleep = %v, want %v", d, tc.wantSleep)
			}
			if market.callCount() != tc.fetches {
				t.Errorf("fetches = %d, want %d", market.callCount(), tc.fetches)
			}
			if lim.reserved != tc.fetches {
				t.Errorf("reserved = %d, want %d", lim.reserved, tc.fetches)
			}
			if w.Since() != tc.wantSince {
				t.Errorf("since = %d, want %d", w.Since(), tc.wantSince)
			}
			if tc.fetches > 0 && w.LastUpdate().IsZero() {
				t.Error("LastUpdate not set after a fetch")
			}
		})
	}
}

func TestTick_FetchUsesCursor(t *testing.T) {
	market := &fakeMarket{next: func(int64) model.OHLCBatch { return batchOf(1000) }}
	w := newTestWorker(1, &fixedClock{ts: 1000}, &countingLimiter{}, market)
	w.since = 940
	w.tick(context.Background())
	if market.calls[0] != 940 {
		t.Errorf("fetched since %d, want 940", market.calls[0])
	}
	if w.Snapshot().Cursor != 1000 {
		t.Errorf("store cursor = %d", w.Snapshot().Cursor)
	}
}

func TestTick_RetriesUntilSuccess(t *testing.T) {
	market := &fakeMarket{
		errs: []error{
			fmt.Errorf("%w: EService:Unavailable", model.ErrTransient),
			fmt.Errorf("%w: missing result", model.ErrMalformedResponse),
			errors.New("connection reset"),
		},
		next: func(int64) model.OHLCBatch { return batchOf(1000) },
	}
	var reasons []string
	w := newTestWorker(1, &fixedClock{ts: 1000}, &countingLimiter{}, market)
	w.deps.Hooks.OnRetry = func(op, reason string) { reasons = append(reasons, op+"/"+reason) }
	w.since = 940

	if _, ok := w.tick(context.Background()); !ok {
		t.Fatal("tick reported stop")
	}
	if market.callCount() != 4 {
		t.Errorf("fetch attempts = %d, want 4", market.callCount())
	}
	want := []string{"ohlc/transient", "ohlc/malformed", "ohlc/transient"}
	if fmt.Sprint(reasons) != fmt.Sprint(want) {
		t.Errorf("retry reasons = %v, want %v", reasons, want)
	}
	if w.Since() != 1000 {
		t.Errorf("since = %d", w.Since())
	}
}

func TestTick_RateLimitedWaits(t *testing.T) {
	market := &fakeMarket{next: func(int64) model.OHLCBatch { return batchOf(1000) }}
	lim := &countingLimiter{failures: 2}
	w := newTestWorker(1, &fixedClock{ts: 1000}, lim, market)
	w.since = 940

	start := time.Now()
	if _, ok := w.tick(context.Background()); !ok {
		t.Fatal("tick reported stop")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected two rate-limit waits, took %v", elapsed)
	}
	if market.callCount() != 1 {
		t.Errorf("rejected reservations must not reach the exchange, calls=%d", market.callCount())
	}
}

func TestTick_StopInterruptsRetries(t *testing.T) {
	market := &fakeMarket{always: fmt.Errorf("%w: down", model.ErrTransient)}
	lim := &countingLimiter{}
	w := newTestWorker(1, &fixedClock{ts: 1000}, lim, market)
	w.cfg.RetryBackoffMax = 5 * time.Millisecond
	w.since = 940

	res := make(chan bool, 1)
	go func() {
		_, ok := w.tick(context.Background())
		res <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	select {
	case ok := <-res:
		if ok {
			t.Error("tick should report stop")
		}
	case <-time.After(time.Second):
		t.Fatal("tick did not observe Stop")
	}
}

func TestNextBackoff(t *testing.T) {
	ceiling := 500 * time.Millisecond
	d := nextBackoff(0, ceiling)
	if d != 100*time.Millisecond {
		t.Errorf("first backoff = %v", d)
	}
	for i := 0; i < 5; i++ {
		d = nextBackoff(d, ceiling)
	}
	if d != ceiling {
		t.Errorf("backoff not capped: %v", d)
	}
}

func TestWorker_Lifecycle(t *testing.T) {
	market := &fakeMarket{next: func(int64) model.OHLCBatch { return batchOf(1000) }}
	var mu sync.Mutex
	var states []State
	w := newTestWorker(1, &fixedClock{ts: 1000}, &countingLimiter{}, market)
	w.deps.Hooks.OnState = func(_ string, _ model.Timeframe, s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	if w.State() != StateIdle {
		t.Fatalf("new worker state = %s", w.State())
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("second Start err = %v, want ErrNotIdle", err)
	}

	deadline := time.Now().Add(time.Second)
	for market.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if market.callCount() == 0 {
		t.Fatal("worker never fetched")
	}

	// now sleeping ~60s; Stop must cut it short
	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	if w.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", w.State())
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("restart err = %v, want ErrNotIdle", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateRunning, StateStopping, StateStopped}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestWorker_StopIdle(t *testing.T) {
	w := newTestWorker(5, &fixedClock{}, &countingLimiter{}, &fakeMarket{})
	w.Stop()
	w.Stop()
	select {
	case <-w.Done():
	default:
		t.Fatal("Done not closed")
	}
	if w.State() != StateStopped {
		t.Errorf("state = %s", w.State())
	}
}
