// Package candlestore holds the rolling candle window of one (pair, timeframe)
// together with its Ichimoku points and statistics frame.
package candlestore

import (
	"sort"

	"signal-engine/internal/indicator"
	"signal-engine/internal/model"
)

// Default bounds.
const (
	DefaultMaxRawPoints       = 300
	DefaultMaxIndicatorPoints = 200
)

// Config bounds the store and selects the Ichimoku windows.
type Config struct {
	MaxRawPoints       int
	MaxIndicatorPoints int
	Tenkan             int
	Kijun              int
	Senkou             int
}

// DefaultConfig returns 300 candles, 200 Ichimoku points and 9/26/52 windows.
func DefaultConfig() Config {
	return Config{
		MaxRawPoints:       DefaultMaxRawPoints,
		MaxIndicatorPoints: DefaultMaxIndicatorPoints,
		Tenkan:             indicator.IchimokuTenkan,
		Kijun:              indicator.IchimokuKijun,
		Senkou:             indicator.IchimokuSenkou,
	}
}

// Store is owned by a single worker and is not safe for concurrent use; readers in
// other goroutines take a Snapshot under the worker's lock.
type Store struct {
	cfg    Config
	engine *indicator.Engine

	byID     map[int64]struct{}
	candles  []model.Candle // ascending by ID
	ichimoku []model.IchimokuPoint
	frame    indicator.Frame

	cursor    int64
	hasCursor bool
	computed  int64 // Ichimoku points ever produced
}

// New returns an empty store. A nil engine uses indicator.DefaultConfigs.
func New(cfg Config, engine *indicator.Engine) *Store {
	def := DefaultConfig()
	if cfg.MaxRawPoints <= 0 {
		cfg.MaxRawPoints = def.MaxRawPoints
	}
	if cfg.MaxIndicatorPoints <= 0 {
		cfg.MaxIndicatorPoints = def.MaxIndicatorPoints
	}
	if cfg.Tenkan <= 0 || cfg.Kijun <= 0 || cfg.Senkou <= 0 {
		cfg.Tenkan, cfg.Kijun, cfg.Senkou = def.Tenkan, def.Kijun, def.Senkou
	}
	if engine == nil {
		engine = indicator.NewEngine(indicator.DefaultConfigs())
	}
	return &Store{
		cfg:    cfg,
		engine: engine,
		byID:   make(map[int64]struct{}, cfg.MaxRawPoints),
	}
}

// Update merges candles into the window and returns how many were new.
//
// Order of operations: dedup by ID, initialise the cursor to first ID - 1, compute
// Ichimoku points beyond the cursor over the full window, trim both lists, move the
// cursor to the last retained ID, then rebuild the statistics frame.
func (s *Store) Update(in []model.Candle) int {
	if len(in) == 0 && len(s.candles) == 0 {
		return 0
	}

	added := 0
	for _, c := range in {
		if _, ok := s.byID[c.ID]; ok {
			continue
		}
		s.byID[c.ID] = struct{}{}
		s.candles = append(s.candles, c)
		added++
	}
	if added > 0 {
		sort.Slice(s.candles, func(i, j int) bool { return s.candles[i].ID < s.candles[j].ID })
	}

	if !s.hasCursor {
		s.cursor = s.candles[0].ID - 1
		s.hasCursor = true
	}

	if added > 0 {
		pts := indicator.ComputeIchimoku(s.candles, s.cursor, s.cfg.Tenkan, s.cfg.Kijun, s.cfg.Senkou)
		s.ichimoku = append(s.ichimoku, pts...)
		s.computed += int64(len(pts))
	}

	s.trim()
	s.cursor = s.candles[len(s.candles)-1].ID

	if added > 0 {
		s.frame = s.engine.Frame(s.candles)
	}
	return added
}

func (s *Store) trim() {
	if over := len(s.candles) - s.cfg.MaxRawPoints; over > 0 {
		for _, c := range s.candles[:over] {
			delete(s.byID, c.ID)
		}
		s.candles = append([]model.Candle(nil), s.candles[over:]...)
	}
	if over := len(s.ichimoku) - s.cfg.MaxIndicatorPoints; over > 0 {
		s.ichimoku = append([]model.IchimokuPoint(nil), s.ichimoku[over:]...)
	}
}

// IchimokuComputed counts every point computed so far, including trimmed ones.
func (s *Store) IchimokuComputed() int64 { return s.computed }

// Len returns the number of retained candles.
func (s *Store) Len() int { return len(s.candles) }

// Cursor returns the last ID whose indicators were computed.
func (s *Store) Cursor() (int64, bool) { return s.cursor, s.hasCursor }

// Candles returns a copy of the ascending window.
func (s *Store) Candles() []model.Candle {
	return append([]model.Candle(nil), s.candles...)
}

// Ichimoku returns a copy of the retained Ichimoku points.
func (s *Store) Ichimoku() []model.IchimokuPoint {
	return append([]model.IchimokuPoint(nil), s.ichimoku...)
}

// Frame returns a copy of the statistics frame over the retained window.
func (s *Store) Frame() indicator.Frame { return s.frame.Clone() }

// Snapshot is a consistent copy of the store for readers outside the owning worker.
type Snapshot struct {
	Candles  []model.Candle
	Ichimoku []model.IchimokuPoint
	Frame    indicator.Frame
	Cursor   int64
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Candles:  s.Candles(),
		Ichimoku: s.Ichimoku(),
		Frame:    s.Frame(),
		Cursor:   s.cursor,
	}
}
