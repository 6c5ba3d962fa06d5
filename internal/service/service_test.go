package service

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signal-engine/config"
	"signal-engine/internal/krakensim"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
	"signal-engine/internal/scheduler"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		KrakenTier:         2,
		KrakenBaseURL:      baseURL,
		KrakenTimeout:      2 * time.Second,
		ManagedPairs:       "XBT:EUR,ETH:EUR",
		Timeframes:         "1,5",
		APIDelay:           5 * time.Second,
		ServerTimeRefresh:  time.Minute,
		AnalysisInterval:   20 * time.Millisecond,
		ResultHistory:      5,
		MaxRawPoints:       300,
		MaxIndicatorPoints: 200,
	}
}

func TestNew_BuildsOneWorkerPerStream(t *testing.T) {
	svc, err := New(testConfig("http://127.0.0.1:1"), nil, metrics.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}
	ws := svc.Registry().Workers()
	if len(ws) != 4 {
		t.Fatalf("workers = %d, want 4", len(ws))
	}
	m, ok := svc.Registry().Pair("ETHEUR")
	if !ok {
		t.Fatal("ETHEUR not registered")
	}
	if tfs := m.Timeframes(); len(tfs) != 2 || tfs[0] != 1 || tfs[1] != 5 {
		t.Errorf("timeframes = %v", tfs)
	}
	for _, w := range ws {
		if w.State() != scheduler.StateIdle {
			t.Errorf("%s %s started before Run", w.Pair().Name, w.Timeframe())
		}
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	cfg := testConfig("")
	cfg.KrakenTier = 1
	if _, err := New(cfg, nil, prom); err == nil {
		t.Error("expected tier error")
	}
	cfg = testConfig("")
	cfg.Timeframes = "2"
	if _, err := New(cfg, nil, prom); err == nil {
		t.Error("expected timeframe error")
	}
}

func TestRun_AgainstSimulator(t *testing.T) {
	pairs := []model.Pair{model.NewPair("XBT", "EUR", ""), model.NewPair("ETH", "EUR", "")}
	sim := httptest.NewServer(krakensim.New(krakensim.Config{Pairs: pairs}))
	defer sim.Close()

	svc, err := New(testConfig(sim.URL), nil, metrics.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for len(svc.History().LatestAll()) < 4 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	results := svc.History().LatestAll()
	if len(results) != 4 {
		cancel()
		t.Fatalf("results for %d streams, want 4", len(results))
	}
	for _, r := range results {
		if r.ID == "" || r.Price <= 0 || r.CandleID == 0 {
			t.Errorf("incomplete result %+v", r)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	for _, w := range svc.Registry().Workers() {
		if w.State() != scheduler.StateStopped {
			t.Errorf("%s %s state = %s", w.Pair().Name, w.Timeframe(), w.State())
		}
	}
}

func TestNotifierFor(t *testing.T) {
	cfg := testConfig("")
	if n := notifierFor(cfg, nil); n != nil {
		t.Fatalf("no channel configured, got %T", n)
	}
	cfg.AlertLog = true
	cfg.AlertWebhookURL = "http://localhost/hook"
	multi, ok := notifierFor(cfg, nil).(notification.Multi)
	if !ok || len(multi) != 2 {
		t.Fatalf("notifier = %#v", multi)
	}
}
