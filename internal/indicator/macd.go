package indicator

import "signal-engine/internal/model"

// Default MACD periods.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACD tracks the histogram: (EMA(fast) - EMA(slow)) minus its EMA(signal).
// The signal line starts accumulating once the slow EMA is ready, so the first
// histogram value appears after slow+signal-1 candles.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a MACD histogram indicator.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "macdh" }

func (m *MACD) Update(candle model.Candle) {
	m.fast.Update(candle)
	m.slow.Update(candle)
	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.add(m.line)
}

// Value returns the histogram.
func (m *MACD) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.line - m.signal.Value()
}

// Line returns the MACD line (fast - slow).
func (m *MACD) Line() float64 { return m.line }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

func (m *MACD) Ready() bool { return m.signal.Ready() }
