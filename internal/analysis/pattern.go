package analysis

import (
	"math"

	"signal-engine/internal/model"
)

// Trend thresholds on the accumulated body score.
const trendThreshold = 20.0

// ClassifyCandlestick names the figure drawn by the last candle, checking hammer,
// reversed hammer, swallowing then harami. The last two need a previous candle.
func ClassifyCandlestick(candles []model.Candle) model.CandlestickFigure {
	if len(candles) == 0 {
		return model.FigureUndefined
	}
	cur := candles[len(candles)-1]
	if cur.IsHammerOrHangingMan() {
		return model.FigureHammerOrHangingMan
	}
	if cur.IsReversedHammerOrFallingStar() {
		return model.FigureReversedHammerOrFallingStar
	}
	if len(candles) < 2 {
		return model.FigureUndefined
	}
	prev := candles[len(candles)-2]
	if cur.IsSwallowing(prev) {
		return model.FigureSwallowing
	}
	if cur.IsHarami(prev) {
		return model.FigureHarami
	}
	return model.FigureUndefined
}

// ClassifyTrend accumulates (i+1)*2*bodyPct over the last candles, positive for
// bullish bodies, and reports UP above 20 and DOWN below -20.
func ClassifyTrend(candles []model.Candle) model.Trend {
	var r float64
	for i, c := range tail(candles, Window) {
		body := math.Abs(c.Open-c.Close) / c.Close * 100
		w := float64(i+1) * 2 * body
		if c.IsBullish() {
			r += w
		} else {
			r -= w
		}
	}
	switch {
	case r > trendThreshold:
		return model.TrendUp
	case r < -trendThreshold:
		return model.TrendDown
	default:
		return model.TrendUndefined
	}
}
