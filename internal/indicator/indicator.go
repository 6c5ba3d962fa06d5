// Package indicator provides technical indicator calculations over candle data.
//
// Streaming indicators implement the Indicator interface, receiving candles in
// ascending order and producing float64 values. The Engine replays a candle window
// through a configured set of them to build a Frame of named series, and
// ComputeIchimoku derives the Ichimoku lines for the same window.
package indicator

import "signal-engine/internal/model"

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the series name (e.g., "close_10_sma", "rsi_14").
	Name() string

	// Update feeds the next candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
