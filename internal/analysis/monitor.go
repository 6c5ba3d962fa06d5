package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"signal-engine/internal/candlestore"
	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

// DefaultInterval is how often the monitor looks for fresh data.
const DefaultInterval = 10 * time.Second

// Source is one polled (pair, timeframe) stream. Snapshot must be safe to call
// from the monitor goroutine.
type Source interface {
	Pair() model.Pair
	Timeframe() model.Timeframe
	LastUpdate() time.Time
	Snapshot() candlestore.Snapshot
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Interval   time.Duration
	Sources    func() []Source
	History    *History
	Publishers []model.ResultPublisher
	NewID      func() string
	Logger     *slog.Logger

	// OnRun is called after every analysis attempt (err is nil on success).
	OnRun func(pair string, tf model.Timeframe, d time.Duration, err error)
}

// Monitor re-runs the analysis of every source whose data changed since its
// previous visit, records the result and hands it to the publishers.
type Monitor struct {
	cfg  MonitorConfig
	log  *slog.Logger
	seen map[string]time.Time
}

// NewMonitor creates a monitor. Nil History defaults to DefaultHistorySize.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.History == nil {
		cfg.History = NewHistory(DefaultHistorySize)
	}
	return &Monitor{
		cfg:  cfg,
		log:  logger.Component(cfg.Logger, "monitor"),
		seen: make(map[string]time.Time),
	}
}

// History returns the result history the monitor writes to.
func (m *Monitor) History() *History { return m.cfg.History }

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick visits every source once and returns how many results were produced.
func (m *Monitor) Tick(ctx context.Context) int {
	if m.cfg.Sources == nil {
		return 0
	}
	produced := 0
	for _, src := range m.cfg.Sources() {
		if ctx.Err() != nil {
			return produced
		}
		pair, tf := src.Pair(), src.Timeframe()
		key := model.ResultKey(pair.Name, tf)

		lu := src.LastUpdate()
		if lu.IsZero() || lu.Equal(m.seen[key]) {
			continue
		}
		m.seen[key] = lu

		start := time.Now()
		snap := src.Snapshot()
		res, err := Run(Input{Pair: pair.Name, Timeframe: tf, Frame: snap.Frame, Candles: snap.Candles})
		if m.cfg.OnRun != nil {
			m.cfg.OnRun(pair.Name, tf, time.Since(start), err)
		}
		if err != nil {
			if errors.Is(err, ErrInsufficientData) {
				m.log.Debug("analysis skipped", "pair", pair.Name, "tf", tf.String(), "error", err)
			} else {
				m.log.Error("analysis failed", "pair", pair.Name, "tf", tf.String(), "error", err)
			}
			continue
		}
		if m.cfg.NewID != nil {
			res.ID = m.cfg.NewID()
		}
		m.cfg.History.Add(res)
		produced++

		rctx := logger.WithTraceID(ctx, res.ID)
		m.log.Info("analysis",
			append(logger.LogWithTrace(rctx),
				"pair", res.Pair,
				"tf", tf.String(),
				"price", res.Price,
				"trend", res.Trend,
				"candlestick", res.Candlestick,
				"sma10", res.SMA10.Signal.String(),
				"macd", res.MACD.Signal.String(),
				"rsi", res.RSI.Signal.String(),
			)...)
		for _, p := range m.cfg.Publishers {
			if err := p.Publish(rctx, res); err != nil {
				m.log.Warn("publish failed", append(logger.LogWithTrace(rctx), "pair", res.Pair, "tf", tf.String(), "error", err)...)
			}
		}
	}
	return produced
}
