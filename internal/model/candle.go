package model

import (
	"encoding/json"
	"math"
)

// Candle is one OHLC point as returned by the exchange for a single timeframe bucket.
// ID is the bucket open time in unix seconds and doubles as the natural order key.
type Candle struct {
	ID     int64   `json:"id"`
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	VWAP   float64 `json:"vwap"`
	Volume float64 `json:"volume"`
	Count  int64   `json:"count"`
}

// Color is the direction of a candle body.
type Color string

const (
	Green Color = "GREEN"
	Red   Color = "RED"
)

// Color returns GREEN only when the candle closed strictly above its open.
func (c Candle) Color() Color {
	if c.Open < c.Close {
		return Green
	}
	return Red
}

// IsBullish reports close >= open. Trend scoring counts flat candles as bullish.
func (c Candle) IsBullish() bool { return c.Close >= c.Open }

// BodyLow returns min(open, close).
func (c Candle) BodyLow() float64 { return math.Min(c.Open, c.Close) }

// BodyHigh returns max(open, close).
func (c Candle) BodyHigh() float64 { return math.Max(c.Open, c.Close) }

// IsHammerOrHangingMan reports a small body sitting in the top third of the range.
func (c Candle) IsHammerOrHangingMan() bool {
	third := (c.High - c.Low) / 3
	return math.Abs(c.Open-c.Close) < third && c.High-c.BodyLow() < third
}

// IsReversedHammerOrFallingStar reports a small body sitting in the bottom third of the range.
func (c Candle) IsReversedHammerOrFallingStar() bool {
	third := (c.High - c.Low) / 3
	return math.Abs(c.Open-c.Close) < third && c.BodyHigh()-c.Low < third
}

// IsSwallowing compares body bounds with the previous candle:
// prev.BodyLow < c.BodyLow < c.BodyHigh < prev.BodyHigh.
func (c Candle) IsSwallowing(prev Candle) bool {
	return prev.BodyLow() < c.BodyLow() && c.BodyLow() < c.BodyHigh() && c.BodyHigh() < prev.BodyHigh()
}

// IsHarami is the mirror of IsSwallowing: the previous body lies strictly inside this one.
func (c Candle) IsHarami(prev Candle) bool {
	return prev.IsSwallowing(c)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// OHLCBatch is one decoded OHLC response. The exchange's "last" field is not
// kept: the polling cursor is the highest candle ID received.
type OHLCBatch struct {
	Candles []Candle
}

// MaxID returns the highest candle ID in the batch, or fallback when empty.
func (b OHLCBatch) MaxID(fallback int64) int64 {
	hi := fallback
	for _, c := range b.Candles {
		if c.ID > hi {
			hi = c.ID
		}
	}
	return hi
}

// IchimokuPoint holds the five Ichimoku lines for one candle ID.
// Chikou is NaN near the end of the series where no future close exists yet.
type IchimokuPoint struct {
	ID      int64
	Tenkan  float64
	Kijun   float64
	SenkouA float64
	SenkouB float64
	Chikou  float64
}

// MarshalJSON encodes lines that are not finite as null.
func (p IchimokuPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID      int64    `json:"id"`
		Tenkan  *float64 `json:"tenkan"`
		Kijun   *float64 `json:"kijun"`
		SenkouA *float64 `json:"senkou_a"`
		SenkouB *float64 `json:"senkou_b"`
		Chikou  *float64 `json:"chikou"`
	}{p.ID, finite(p.Tenkan), finite(p.Kijun), finite(p.SenkouA), finite(p.SenkouB), finite(p.Chikou)})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
