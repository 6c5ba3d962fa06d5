package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signal-engine/internal/analysis"
	"signal-engine/internal/bus"
	"signal-engine/internal/model"
	"signal-engine/internal/scheduler"
	redisstore "signal-engine/internal/store/redis"
)

// value finds the sample of family name whose labels include want.
func value(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					continue metric
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("no sample for %s %v", name, want)
	return 0
}

func TestObserveAPIAndAnalysis(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveAPI("public.ohlc", "ok", 120*time.Millisecond)
	m.ObserveAPI("public.ohlc", "ok", 80*time.Millisecond)
	m.ObserveAPI("public.time", "transient", time.Second)

	if got := value(t, reg, "signalengine_api_calls_total", map[string]string{"endpoint": "public.ohlc", "outcome": "ok"}); got != 2 {
		t.Errorf("ohlc ok calls = %v", got)
	}
	if got := value(t, reg, "signalengine_api_call_duration_seconds", map[string]string{"endpoint": "public.time"}); got != 1 {
		t.Errorf("time samples = %v", got)
	}

	m.ObserveAnalysis("XBTEUR", 5, time.Millisecond, nil)
	m.ObserveAnalysis("XBTEUR", 5, time.Millisecond, analysis.ErrInsufficientData)
	m.ObserveAnalysis("XBTEUR", 5, time.Millisecond, errors.New("boom"))
	for _, result := range []string{"ok", "insufficient", "error"} {
		if got := value(t, reg, "signalengine_analysis_runs_total", map[string]string{"result": result}); got != 1 {
			t.Errorf("%s runs = %v", result, got)
		}
	}
}

func TestSchedulerHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := m.SchedulerHooks()

	h.OnRetry("ohlc", "rate_limited")
	h.OnFeed("XBTEUR", 15, 720, 643)
	h.OnFeed("XBTEUR", 15, 1, 0)
	h.OnState("XBTEUR", 15, scheduler.StateStopping)
	h.OnSleep("XBTEUR", 15, 42*time.Second)

	stream := map[string]string{"pair": "XBTEUR", "tf": "15m"}
	if got := value(t, reg, "signalengine_retries_total", map[string]string{"reason": "rate_limited"}); got != 1 {
		t.Errorf("retries = %v", got)
	}
	if got := value(t, reg, "signalengine_candles_ingested_total", stream); got != 721 {
		t.Errorf("candles = %v", got)
	}
	if got := value(t, reg, "signalengine_ichimoku_points_total", stream); got != 643 {
		t.Errorf("ichimoku = %v", got)
	}
	if got := value(t, reg, "signalengine_worker_state", stream); got != 2 {
		t.Errorf("state = %v", got)
	}
	if got := value(t, reg, "signalengine_next_fetch_delay_seconds", stream); got != 42 {
		t.Errorf("delay = %v", got)
	}
}

type stubStream struct {
	pair model.Pair
	tf   model.Timeframe
	lu   time.Time
}

func (s stubStream) Pair() model.Pair           { return s.pair }
func (s stubStream) Timeframe() model.Timeframe { return s.tf }
func (s stubStream) LastUpdate() time.Time      { return s.lu }

func TestHealth_Streams(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := NewHealthStatus()
	h.now = func() time.Time { return now }
	h.StartedAt = now.Add(-time.Hour)

	xbt := model.NewPair("XBT", "EUR", "")
	streams := []Stream{
		stubStream{pair: xbt, tf: 1},
		stubStream{pair: xbt, tf: 5, lu: now.Add(-30 * time.Second)},
	}
	h.SetStreams(func() []Stream { return streams })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var report healthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Status != "healthy" || report.Uptime != "1h0m0s" || len(report.Streams) != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.Streams[0].Status != "pending" || report.Streams[1].Status != "fresh" {
		t.Errorf("streams = %+v", report.Streams)
	}

	// 5m stream silent for 5m + StaleAfter + 1s
	streams[1] = stubStream{pair: xbt, tf: 5, lu: now.Add(-(5*time.Minute + StaleAfter + time.Second))}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stale stream code = %d", rec.Code)
	}
}

func TestHealth_RedisDown(t *testing.T) {
	h := NewHealthStatus()
	h.RedisEnabled = true
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestInstrumentBus_DropsAndErrorsAreSeparate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ctx := context.Background()

	// a blocked subscriber with a one-slot queue drops the third result
	slow := bus.New(1, nil)
	m.InstrumentBus(slow)
	block := make(chan struct{})
	slow.Attach("feed", model.PublisherFunc(func(context.Context, model.AnalysisResult) error {
		<-block
		return nil
	}))
	slow.Publish(ctx, model.AnalysisResult{ID: "1"})
	deadline := time.Now().Add(time.Second)
	for slow.Stats()[0].Len != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	slow.Publish(ctx, model.AnalysisResult{ID: "2"})
	slow.Publish(ctx, model.AnalysisResult{ID: "3"})
	close(block)
	slow.Close()

	failing := bus.New(8, nil)
	m.InstrumentBus(failing)
	failing.Attach("redis", model.PublisherFunc(func(context.Context, model.AnalysisResult) error {
		return errors.New("down")
	}))
	for i := 0; i < 3; i++ {
		failing.Publish(ctx, model.AnalysisResult{ID: "x"})
	}
	failing.Close()

	if got := value(t, reg, "signalengine_publish_drops_total", map[string]string{"publisher": "feed"}); got != 1 {
		t.Errorf("feed drops = %v, want 1", got)
	}
	if got := value(t, reg, "signalengine_publish_errors_total", map[string]string{"publisher": "redis"}); got != 3 {
		t.Errorf("redis errors = %v, want 3", got)
	}
	mfs, _ := reg.Gather()
	for _, mf := range mfs {
		if mf.GetName() != "signalengine_publish_errors_total" {
			continue
		}
		for _, s := range mf.GetMetric() {
			for _, lp := range s.GetLabel() {
				if lp.GetValue() == "feed" {
					t.Errorf("queue drop counted as a publish error")
				}
			}
		}
	}
}

func TestInstrumentBuffer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ctx := context.Background()

	var healthy atomic.Bool
	target := model.PublisherFunc(func(context.Context, model.AnalysisResult) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	})
	cb := redisstore.NewCircuitBreaker(1, 20*time.Millisecond)
	bp := redisstore.NewBufferedPublisher(ctx, target, cb, 1, nil)
	m.InstrumentBuffer(bp)

	_ = bp.Publish(ctx, model.AnalysisResult{ID: "a"}) // trips the breaker
	_ = bp.Publish(ctx, model.AnalysisResult{ID: "b"}) // buffered
	_ = bp.Publish(ctx, model.AnalysisResult{ID: "c"}) // buffered, b dropped

	if got := value(t, reg, "signalengine_redis_buffered_writes_total", nil); got != 2 {
		t.Errorf("buffered = %v, want 2", got)
	}
	if got := value(t, reg, "signalengine_redis_buffer_drops_total", nil); got != 1 {
		t.Errorf("buffer drops = %v, want 1", got)
	}

	healthy.Store(true)
	time.Sleep(30 * time.Millisecond)
	if err := bp.Publish(ctx, model.AnalysisResult{ID: "d"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for value(t, reg, "signalengine_redis_replayed_writes_total", nil) != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := value(t, reg, "signalengine_redis_replayed_writes_total", nil); got != 1 {
		t.Errorf("replayed = %v, want 1", got)
	}
}
