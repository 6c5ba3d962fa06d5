package analysis

import (
	"sync"

	"signal-engine/internal/model"
)

// DefaultHistorySize is how many results are kept per pair and timeframe.
const DefaultHistorySize = 5

// ring is a fixed-size circular buffer of results. Overwrites the oldest entry
// when full.
type ring struct {
	buf  []model.AnalysisResult
	pos  int // next write position
	full bool
}

func (r *ring) push(res model.AnalysisResult) {
	r.buf[r.pos] = res
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 && !r.full {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (r *ring) index(logical int) int {
	if r.full {
		return (r.pos + logical) % len(r.buf)
	}
	return logical
}

// History keeps the most recent results per "{pair}:{tf}m" key.
//
// Thread-safe for concurrent writes and reads.
type History struct {
	mu    sync.RWMutex
	size  int
	rings map[string]*ring
}

// NewHistory creates a history keeping size results per key.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, rings: make(map[string]*ring)}
}

// Add records a result under its pair and timeframe.
func (h *History) Add(res model.AnalysisResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := res.Key()
	r, ok := h.rings[key]
	if !ok {
		r = &ring{buf: make([]model.AnalysisResult, h.size)}
		h.rings[key] = r
	}
	r.push(res)
}

// Results returns the retained results for pair and tf, oldest first.
func (h *History) Results(pair string, tf model.Timeframe) []model.AnalysisResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rings[model.ResultKey(pair, tf)]
	if !ok {
		return nil
	}
	out := make([]model.AnalysisResult, r.len())
	for i := range out {
		out[i] = r.buf[r.index(i)]
	}
	return out
}

// Latest returns the most recent result for pair and tf.
func (h *History) Latest(pair string, tf model.Timeframe) (model.AnalysisResult, bool) {
	res := h.Results(pair, tf)
	if len(res) == 0 {
		return model.AnalysisResult{}, false
	}
	return res[len(res)-1], true
}

// LatestAll returns the most recent result of every key.
func (h *History) LatestAll() []model.AnalysisResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.AnalysisResult, 0, len(h.rings))
	for _, r := range h.rings {
		if n := r.len(); n > 0 {
			out = append(out, r.buf[r.index(n-1)])
		}
	}
	return out
}
