package indicator

import (
	"math"

	"signal-engine/internal/model"
)

// Default Ichimoku windows.
const (
	IchimokuTenkan = 9
	IchimokuKijun  = 26
	IchimokuSenkou = 52
)

// ComputeIchimoku derives the Ichimoku lines over candles (ascending by ID) and
// returns the points whose ID is greater than cursor and whose tenkan, kijun and
// both senkou spans are defined. Chikou is NaN for the last w2 candles.
//
// w1 drives tenkan, w2 drives kijun plus the forward shift of both senkou spans
// and the backward shift of chikou, w3 drives senkou B.
func ComputeIchimoku(candles []model.Candle, cursor int64, w1, w2, w3 int) []model.IchimokuPoint {
	n := len(candles)
	if n == 0 {
		return nil
	}

	tenkan := midpoints(candles, w1)
	kijun := midpoints(candles, w2)
	longMid := midpoints(candles, w3)

	var out []model.IchimokuPoint
	for i, c := range candles {
		if c.ID <= cursor {
			continue
		}
		senkouA, senkouB := math.NaN(), math.NaN()
		if j := i - w2; j >= 0 {
			senkouA = (tenkan[j] + kijun[j]) / 2
			senkouB = longMid[j]
		}
		if !finite(tenkan[i]) || !finite(kijun[i]) || !finite(senkouA) || !finite(senkouB) {
			continue
		}
		chikou := math.NaN()
		if j := i + w2; j < n {
			chikou = candles[j].Close
		}
		out = append(out, model.IchimokuPoint{
			ID:      c.ID,
			Tenkan:  tenkan[i],
			Kijun:   kijun[i],
			SenkouA: senkouA,
			SenkouB: senkouB,
			Chikou:  chikou,
		})
	}
	return out
}

// midpoints returns (rolling max high + rolling min low) / 2 over window w.
// Entries before the first full window are NaN.
func midpoints(candles []model.Candle, w int) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		if w <= 0 || i < w-1 {
			out[i] = math.NaN()
			continue
		}
		hi, lo := candles[i].High, candles[i].Low
		for k := i - w + 1; k < i; k++ {
			hi = math.Max(hi, candles[k].High)
			lo = math.Min(lo, candles[k].Low)
		}
		out[i] = (hi + lo) / 2
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
