// Package service wires the signal engine together and manages its lifecycle.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-engine/config"
	"signal-engine/internal/analysis"
	"signal-engine/internal/bus"
	"signal-engine/internal/candlestore"
	"signal-engine/internal/clock"
	"signal-engine/internal/feed"
	"signal-engine/internal/id"
	"signal-engine/internal/indicator"
	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
	"signal-engine/internal/ratelimit"
	"signal-engine/internal/scheduler"
	redisstore "signal-engine/internal/store/redis"
	"signal-engine/pkg/kraken"
)

const (
	shutdownTimeout = 5 * time.Second
	healthInterval  = 15 * time.Second
	busQueue        = 64
	redisMaxBuffer  = 1000
)

// Service is the top-level orchestrator: one registry of polling workers, one
// analysis monitor and the result publishers behind a fan-out bus.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	limiter  *ratelimit.Limiter
	client   *kraken.Client
	clock    *clock.ServerClock
	registry *scheduler.Registry
	history  *analysis.History
	monitor  *analysis.Monitor
	bus      *bus.FanOut
	alerts   notification.Notifier

	rdb        *goredis.Client
	feedHub    *feed.Hub
	feedSrv    *feed.Server
	metricsSrv *metrics.Server
}

// New builds every component from cfg. Nothing is started and no network
// connection is made.
func New(cfg *config.Config, log *slog.Logger, prom *metrics.Metrics) (*Service, error) {
	pairs, err := cfg.Pairs()
	if err != nil {
		return nil, err
	}
	tfs, err := cfg.ParseTFs()
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(cfg.KrakenTier)
	if err != nil {
		return nil, err
	}
	limiter.OnChange = func(c int) { prom.RateLimitCounter.Set(float64(c)) }
	limiter.OnReject = prom.RateLimitRejections.Inc

	client := kraken.NewClient(kraken.Config{BaseURL: cfg.KrakenBaseURL, Timeout: cfg.KrakenTimeout})
	client.OnRequest = prom.ObserveAPI

	clk := clock.New(client, limiter, cfg.ServerTimeRefresh)
	clk.OnFetch = prom.ServerTimeFetches.Inc

	registry := scheduler.NewRegistry(scheduler.Deps{
		Limiter: limiter,
		Clock:   clk,
		Market:  client,
		Engine:  indicator.NewEngine(indicator.DefaultConfigs()),
		Logger:  log,
		Hooks:   prom.SchedulerHooks(),
	}, scheduler.Config{
		APIDelay:        cfg.APIDelay,
		RateLimitWait:   time.Second,
		RetryBackoffMax: cfg.RetryBackoffMax,
		Store: candlestore.Config{
			MaxRawPoints:       cfg.MaxRawPoints,
			MaxIndicatorPoints: cfg.MaxIndicatorPoints,
			Tenkan:             indicator.IchimokuTenkan,
			Kijun:              indicator.IchimokuKijun,
			Senkou:             indicator.IchimokuSenkou,
		},
	})
	for _, p := range pairs {
		m := registry.Add(p)
		for _, tf := range tfs {
			if err := m.AddTimeframe(tf); err != nil {
				return nil, err
			}
		}
	}

	fan := bus.New(busQueue, log)
	prom.InstrumentBus(fan)

	history := analysis.NewHistory(cfg.ResultHistory)
	ids := id.NewGenerator()

	health := metrics.NewHealthStatus()
	health.SetStreams(func() []metrics.Stream {
		ws := registry.Workers()
		out := make([]metrics.Stream, len(ws))
		for i, w := range ws {
			out[i] = w
		}
		return out
	})

	return &Service{
		cfg:      cfg,
		log:      logger.Component(log, "service"),
		prom:     prom,
		health:   health,
		limiter:  limiter,
		client:   client,
		clock:    clk,
		registry: registry,
		history:  history,
		bus:      fan,
		alerts:   notifierFor(cfg, log),
		monitor: analysis.NewMonitor(analysis.MonitorConfig{
			Interval:   cfg.AnalysisInterval,
			Sources:    registry.Sources,
			History:    history,
			Publishers: []model.ResultPublisher{fan},
			NewID:      ids.New,
			Logger:     log,
			OnRun:      prom.ObserveAnalysis,
		}),
	}, nil
}

// notifierFor combines the configured alert channels, or returns nil when none is.
func notifierFor(cfg *config.Config, log *slog.Logger) notification.Notifier {
	var ns notification.Multi
	if cfg.AlertLog {
		ns = append(ns, notification.NewLogNotifier(log))
	}
	if cfg.AlertWebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if len(ns) == 0 {
		return nil
	}
	return ns
}

// Registry exposes the workers, e.g. for tests.
func (svc *Service) Registry() *scheduler.Registry { return svc.registry }

// History exposes the in-memory results.
func (svc *Service) History() *analysis.History { return svc.history }

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg

	if cfg.RedisAddr != "" {
		if err := svc.startRedis(ctx); err != nil {
			return err
		}
	}
	if cfg.FeedAddr != "" {
		svc.feedHub = feed.NewHub(svc.history, svc.log)
		svc.feedHub.OnClients = func(n int) { svc.prom.FeedClients.Set(float64(n)) }
		svc.bus.Attach("feed", svc.feedHub)
		svc.feedSrv = feed.NewServer(cfg.FeedAddr, svc.feedHub, svc.history, svc.log)
		svc.feedSrv.Start()
	}
	if svc.alerts != nil {
		svc.bus.Attach("alerts", notification.NewAlerter(svc.alerts, cfg.AlertMinAgree, svc.log))
	}
	if cfg.MetricsAddr != "" {
		svc.metricsSrv = metrics.NewServer(cfg.MetricsAddr, svc.health, nil, svc.log)
		svc.metricsSrv.Start()
	}

	svc.limiter.Start()
	if err := svc.registry.StartAll(ctx); err != nil {
		svc.shutdown()
		return fmt.Errorf("start workers: %w", err)
	}
	go svc.monitor.Run(ctx)

	svc.log.Info("signal engine running",
		"workers", len(svc.registry.Workers()),
		"tier", cfg.KrakenTier,
		"timeframes", cfg.Timeframes,
		"redis", cfg.RedisAddr != "",
		"feed", cfg.FeedAddr,
		"metrics", cfg.MetricsAddr,
		"alerts", svc.alerts != nil,
	)

	<-ctx.Done()
	svc.shutdown()
	return nil
}

func (svc *Service) startRedis(ctx context.Context) error {
	rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: svc.cfg.RedisAddr, Password: svc.cfg.RedisPassword})
	if err != nil {
		return err
	}
	svc.rdb = rdb
	svc.log.Info("redis connected", "addr", svc.cfg.RedisAddr)

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
	}
	writer := redisstore.NewWriter(rdb, svc.cfg.RedisStreamLen, svc.log)
	buffered := redisstore.NewBufferedPublisher(context.WithoutCancel(ctx), writer, cb, redisMaxBuffer, svc.log)
	svc.prom.InstrumentBuffer(buffered)
	svc.bus.Attach("redis", buffered)

	svc.health.StartLivenessChecker(ctx, rdb, healthInterval)
	return nil
}

// shutdown stops workers, drains publishers and closes connections.
func (svc *Service) shutdown() {
	svc.log.Info("shutting down")
	svc.registry.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.registry.Wait(ctx); err != nil {
		svc.log.Warn("workers did not stop in time", "error", err)
	}
	svc.limiter.Stop()
	svc.bus.Close()

	if svc.feedSrv != nil {
		_ = svc.feedSrv.Stop(ctx)
	}
	if svc.metricsSrv != nil {
		_ = svc.metricsSrv.Stop(ctx)
	}
	if svc.rdb != nil {
		svc.rdb.Close()
	}
	svc.log.Info("shutdown complete")
}
