package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

// PairManager owns the workers of one pair, one per timeframe.
type PairManager struct {
	pair model.Pair
	deps Deps
	cfg  Config
	log  *slog.Logger

	mu      sync.Mutex
	workers map[model.Timeframe]*Worker
	order   []model.Timeframe
}

// NewPairManager returns a manager with no timeframes.
func NewPairManager(pair model.Pair, deps Deps, cfg Config) *PairManager {
	return &PairManager{
		pair:    pair,
		deps:    deps,
		cfg:     cfg,
		log:     logger.Component(deps.Logger, "pair").With("pair", pair.Name),
		workers: make(map[model.Timeframe]*Worker),
	}
}

func (m *PairManager) Pair() model.Pair { return m.pair }

// AddTimeframe creates an idle worker for tf. Adding an existing timeframe is a
// logged no-op.
func (m *PairManager) AddTimeframe(tf model.Timeframe) error {
	if err := tf.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[tf]; ok {
		m.log.Warn("timeframe already registered", "tf", tf.String())
		return nil
	}
	m.workers[tf] = NewWorker(m.pair, tf, m.deps, m.cfg)
	m.order = append(m.order, tf)
	return nil
}

// Timeframe returns the worker for tf.
func (m *PairManager) Timeframe(tf model.Timeframe) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[tf]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", model.ErrUnknownTimeframe, m.pair.Name, tf)
	}
	return w, nil
}

// Start starts the worker for tf.
func (m *PairManager) Start(ctx context.Context, tf model.Timeframe) error {
	w, err := m.Timeframe(tf)
	if err != nil {
		return err
	}
	return w.Start(ctx)
}

// Stop signals the worker for tf to stop.
func (m *PairManager) Stop(tf model.Timeframe) error {
	w, err := m.Timeframe(tf)
	if err != nil {
		return err
	}
	w.Stop()
	return nil
}

// Timeframes lists registered timeframes in insertion order.
func (m *PairManager) Timeframes() []model.Timeframe {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Timeframe(nil), m.order...)
}

// Workers lists workers in insertion order.
func (m *PairManager) Workers() []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Worker, 0, len(m.order))
	for _, tf := range m.order {
		out = append(out, m.workers[tf])
	}
	return out
}

// StartAll starts every idle worker. Workers that already ran are skipped.
func (m *PairManager) StartAll(ctx context.Context) error {
	for _, w := range m.Workers() {
		if w.State() != StateIdle {
			continue
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll signals every worker to stop.
func (m *PairManager) StopAll() {
	for _, w := range m.Workers() {
		w.Stop()
	}
}
