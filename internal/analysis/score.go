// Package analysis turns a candle window and its statistics frame into scored
// technical signals, and keeps a short history of results per pair and timeframe.
package analysis

import (
	"math"

	"signal-engine/internal/model"
)

// Window is the number of trailing samples every scorer looks at.
const Window = 10

// Near-zero thresholds of the crossover scorers, in percent of the reference.
const (
	AverageNearZero = 0.2
	MACDNearZero    = 0.1
)

// Default RSI bounds.
const (
	RSIOversold   = 35.0
	RSIOverbought = 65.0
)

// AnalyseAverage scores an average against the reference price series.
// The diff is (reference - average) / reference * 100, so the price moving above
// its average is the bullish crossover.
func AnalyseAverage(average, reference []float64) model.SignalScore {
	avg, ref := tail(average, Window), tail(reference, Window)
	n := min(len(avg), len(ref))
	diffs := make([]float64, n)
	for i := 0; i < n; i++ {
		diffs[i] = (ref[i] - avg[i]) / ref[i] * 100
	}
	return scoreFrom(crossoverScore(diffs, AverageNearZero), 100)
}

// AnalyseMACD scores the MACD histogram expressed in percent of the reference.
func AnalyseMACD(macdh, reference []float64) model.SignalScore {
	hist, ref := tail(macdh, Window), tail(reference, Window)
	n := min(len(hist), len(ref))
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		vals[i] = hist[i] / ref[i] * 100
	}
	return scoreFrom(crossoverScore(vals, MACDNearZero), 100)
}

// AnalyseRSI rewards oversold readings and penalises overbought ones, weighting
// recent samples quadratically. A neutral reading damps what was accumulated.
func AnalyseRSI(rsi []float64, low, high float64) model.SignalScore {
	var r float64
	for i, v := range tail(rsi, Window) {
		w := float64((i + 1) * (i + 1))
		switch {
		case v < low:
			r += w
		case v > high:
			r -= w
		default:
			r /= 1.5
		}
	}
	return scoreFrom(r, 200)
}

// crossoverScore walks consecutive samples: a sign flip scores (i+1)^2 in its
// direction, a sample converging on zero inside nearZero scores (i+1)^2/3 against
// its own sign, anything else scores 1 in its own sign.
func crossoverScore(vals []float64, nearZero float64) float64 {
	var r float64
	for i := 1; i < len(vals); i++ {
		prev, cur := vals[i-1], vals[i]
		w := float64((i + 1) * (i + 1))
		switch {
		case prev < 0 && 0 < cur:
			r += w
		case cur < 0 && 0 < prev:
			r -= w
		case math.Abs(cur) < nearZero && math.Abs(prev)-math.Abs(cur) > 0:
			if cur > 0 {
				r -= w / 3
			} else {
				r += w / 3
			}
		case cur > 0:
			r++
		default:
			r--
		}
	}
	return r
}

// scoreFrom maps a raw score to a signal and a power in [0, 10], saturating when
// |r| exceeds scale.
func scoreFrom(r, scale float64) model.SignalScore {
	s := model.SignalScore{Signal: model.Neutral}
	switch {
	case r > 0:
		s.Signal = model.Buy
	case r < 0:
		s.Signal = model.Sell
	}
	if math.Abs(r) > scale {
		s.Power = 10
	} else {
		s.Power = math.Abs(r) * 10 / scale
	}
	return s
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
