package indicator

import (
	"strconv"

	"signal-engine/internal/model"
)

// EMA calculates Exponential Moving Average of the close, seeded with the SMA of
// the first period values.
// O(1) per update, no window storage.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "close_" + strconv.Itoa(e.period) + "_ema" }

func (e *EMA) Update(candle model.Candle) {
	e.add(candle.Close)
}

// add feeds a raw value; MACD uses it to smooth its own line.
func (e *EMA) add(price float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA formula: EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }
