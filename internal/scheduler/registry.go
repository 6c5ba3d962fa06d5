package scheduler

import (
	"context"
	"sync"

	"signal-engine/internal/analysis"
	"signal-engine/internal/model"
)

// Registry holds one PairManager per managed pair, keyed by pair name.
type Registry struct {
	deps Deps
	cfg  Config

	mu    sync.Mutex
	pairs map[string]*PairManager
	order []string
}

// NewRegistry returns an empty registry. A nil Deps.Lock is replaced by one
// mutex shared by every worker created through the registry.
func NewRegistry(deps Deps, cfg Config) *Registry {
	if deps.Lock == nil {
		deps.Lock = &sync.Mutex{}
	}
	return &Registry{
		deps:  deps,
		cfg:   cfg,
		pairs: make(map[string]*PairManager),
	}
}

// Add registers pair and returns its manager. Adding a known pair returns the
// existing manager.
func (r *Registry) Add(pair model.Pair) *PairManager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.pairs[pair.Name]; ok {
		return m
	}
	m := NewPairManager(pair, r.deps, r.cfg)
	r.pairs[pair.Name] = m
	r.order = append(r.order, pair.Name)
	return m
}

// Pair looks up a manager by pair name, e.g. "XBTEUR".
func (r *Registry) Pair(name string) (*PairManager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.pairs[name]
	return m, ok
}

// Pairs lists managers in registration order.
func (r *Registry) Pairs() []*PairManager {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PairManager, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.pairs[name])
	}
	return out
}

// Workers lists every worker of every pair.
func (r *Registry) Workers() []*Worker {
	var out []*Worker
	for _, m := range r.Pairs() {
		out = append(out, m.Workers()...)
	}
	return out
}

// Sources adapts Workers for the analysis monitor.
func (r *Registry) Sources() []analysis.Source {
	ws := r.Workers()
	out := make([]analysis.Source, len(ws))
	for i, w := range ws {
		out[i] = w
	}
	return out
}

// StartAll starts every idle worker of every pair.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, m := range r.Pairs() {
		if err := m.StartAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll signals every worker to stop.
func (r *Registry) StopAll() {
	for _, m := range r.Pairs() {
		m.StopAll()
	}
}

// Wait blocks until every started worker is STOPPED or ctx is done. Workers that
// never started are not waited on.
func (r *Registry) Wait(ctx context.Context) error {
	for _, w := range r.Workers() {
		if w.State() == StateIdle {
			continue
		}
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
