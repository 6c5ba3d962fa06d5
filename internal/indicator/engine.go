package indicator

import (
	"math"

	"signal-engine/internal/model"
)

// Series names produced by DefaultConfigs.
const (
	SeriesSMA2  = "close_2_sma"
	SeriesSMA10 = "close_10_sma"
	SeriesSMA21 = "close_21_sma"
	SeriesEMA10 = "close_10_ema"
	SeriesEMA21 = "close_21_ema"
	SeriesMACDH = "macdh"
	SeriesRSI14 = "rsi_14"
)

// IndicatorConfig specifies a single indicator to compute.
type IndicatorConfig struct {
	Type   string // "SMA", "EMA", "RSI", "MACD"
	Period int    // ignored for MACD, which uses 12/26/9
}

// DefaultConfigs returns the indicator set consumed by technical analysis.
// The 2-period SMA is the smoothed "current price" the averages are compared to.
func DefaultConfigs() []IndicatorConfig {
	return []IndicatorConfig{
		{Type: "SMA", Period: 2},
		{Type: "SMA", Period: 10},
		{Type: "SMA", Period: 21},
		{Type: "EMA", Period: 10},
		{Type: "EMA", Period: 21},
		{Type: "MACD"},
		{Type: "RSI", Period: 14},
	}
}

// Frame is a table of named indicator series aligned row by row with the candle
// window it was computed from. A value is NaN until its indicator is ready.
type Frame struct {
	IDs    []int64
	series map[string][]float64
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.IDs) }

// Series returns the named column, or nil if it was not configured.
func (f Frame) Series(name string) []float64 { return f.series[name] }

// Tail returns the last n values of the named column, or nil when the column is
// missing or shorter than n.
func (f Frame) Tail(name string, n int) []float64 {
	s := f.series[name]
	if len(s) < n {
		return nil
	}
	return s[len(s)-n:]
}

// Clone returns a deep copy safe to hand to another goroutine.
func (f Frame) Clone() Frame {
	c := Frame{
		IDs:    append([]int64(nil), f.IDs...),
		series: make(map[string][]float64, len(f.series)),
	}
	for k, v := range f.series {
		c.series[k] = append([]float64(nil), v...)
	}
	return c
}

// Engine builds statistics frames from candle windows.
// Stateless between calls: every Frame replays the whole window through fresh
// indicator instances, so it is safe for concurrent use.
type Engine struct {
	configs []IndicatorConfig
}

// NewEngine creates an engine for the given indicator configs.
func NewEngine(configs []IndicatorConfig) *Engine {
	return &Engine{configs: configs}
}

// Frame computes every configured indicator over candles (ascending by ID).
func (e *Engine) Frame(candles []model.Candle) Frame {
	inds := e.createIndicators()
	f := Frame{
		IDs:    make([]int64, len(candles)),
		series: make(map[string][]float64, len(inds)),
	}
	for _, ind := range inds {
		f.series[ind.Name()] = make([]float64, len(candles))
	}
	for i, c := range candles {
		f.IDs[i] = c.ID
		for _, ind := range inds {
			ind.Update(c)
			v := math.NaN()
			if ind.Ready() {
				v = ind.Value()
			}
			f.series[ind.Name()][i] = v
		}
	}
	return f
}

// createIndicators creates fresh indicator instances for the configs.
func (e *Engine) createIndicators() []Indicator {
	inds := make([]Indicator, len(e.configs))
	for i, ic := range e.configs {
		switch ic.Type {
		case "SMA":
			inds[i] = NewSMA(ic.Period)
		case "EMA":
			inds[i] = NewEMA(ic.Period)
		case "RSI":
			inds[i] = NewRSI(ic.Period)
		case "MACD":
			inds[i] = NewMACD(MACDFast, MACDSlow, MACDSignal)
		default:
			inds[i] = NewSMA(ic.Period) // fallback
		}
	}
	return inds
}

