package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/candlestore"
	"signal-engine/internal/model"
)

type fakeSource struct {
	pair  model.Pair
	tf    model.Timeframe
	mu    sync.Mutex
	last  time.Time
	store *candlestore.Store
}

func (f *fakeSource) Pair() model.Pair           { return f.pair }
func (f *fakeSource) Timeframe() model.Timeframe { return f.tf }
func (f *fakeSource) LastUpdate() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
func (f *fakeSource) Snapshot() candlestore.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.Snapshot()
}

func (f *fakeSource) feed(c []model.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store.Update(c)
	f.last = time.Now()
}

func newFakeSource(name string, candles int) *fakeSource {
	s := &fakeSource{
		pair:  model.NewPair(name, "EUR", ""),
		tf:    5,
		store: candlestore.New(candlestore.DefaultConfig(), nil),
	}
	if candles > 0 {
		s.feed(waveCandles(candles))
	}
	return s
}

func TestMonitor_RunsOnlyOnFreshData(t *testing.T) {
	ready := newFakeSource("XBT", 80)
	short := newFakeSource("ETH", 5)
	idle := newFakeSource("LTC", 0)

	var published []model.AnalysisResult
	var runs, failures int
	n := 0
	m := NewMonitor(MonitorConfig{
		Sources: func() []Source { return []Source{ready, short, idle} },
		Publishers: []model.ResultPublisher{model.PublisherFunc(func(ctx context.Context, r model.AnalysisResult) error {
			published = append(published, r)
			return errors.New("sink down") // must not stop the monitor
		})},
		NewID: func() string { n++; return "id-" + string(rune('0'+n)) },
		OnRun: func(pair string, tf model.Timeframe, d time.Duration, err error) {
			runs++
			if err != nil {
				failures++
			}
		},
	})

	if got := m.Tick(context.Background()); got != 1 {
		t.Fatalf("first tick produced %d results, want 1", got)
	}
	if runs != 2 || failures != 1 {
		t.Errorf("runs=%d failures=%d, want 2/1", runs, failures)
	}
	if len(published) != 1 || published[0].Pair != "XBTEUR" || published[0].ID != "id-1" {
		t.Fatalf("unexpected published %+v", published)
	}

	// nothing changed since the last visit
	if got := m.Tick(context.Background()); got != 0 {
		t.Errorf("second tick produced %d results, want 0", got)
	}

	time.Sleep(2 * time.Millisecond)
	last := ready.Snapshot().Candles
	next := last[len(last)-1]
	next.ID += 60
	ready.feed([]model.Candle{next})
	if got := m.Tick(context.Background()); got != 1 {
		t.Errorf("tick after update produced %d results, want 1", got)
	}

	hist := m.History().Results("XBTEUR", 5)
	if len(hist) != 2 || hist[1].CandleID != next.ID {
		t.Errorf("history = %+v", hist)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m := NewMonitor(MonitorConfig{Interval: 5 * time.Millisecond, Sources: func() []Source { return nil }})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
