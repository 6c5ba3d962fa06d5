package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"signal-engine/internal/indicator"
	"signal-engine/internal/model"
)

// ErrInsufficientData is returned by Run until the window and every scored
// series hold Window finite samples.
var ErrInsufficientData = errors.New("insufficient data for analysis")

var requiredSeries = []string{
	indicator.SeriesSMA2,
	indicator.SeriesSMA10,
	indicator.SeriesSMA21,
	indicator.SeriesEMA10,
	indicator.SeriesEMA21,
	indicator.SeriesMACDH,
	indicator.SeriesRSI14,
}

// Input is what one analysis run reads.
type Input struct {
	Pair      string
	Timeframe model.Timeframe
	Frame     indicator.Frame
	Candles   []model.Candle
}

// Run scores one candle window. It holds no state between calls.
func Run(in Input) (model.AnalysisResult, error) {
	if len(in.Candles) < Window {
		return model.AnalysisResult{}, fmt.Errorf("%w: %d candles", ErrInsufficientData, len(in.Candles))
	}
	for _, name := range requiredSeries {
		vals := in.Frame.Tail(name, Window)
		if vals == nil {
			return model.AnalysisResult{}, fmt.Errorf("%w: series %s", ErrInsufficientData, name)
		}
		for _, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return model.AnalysisResult{}, fmt.Errorf("%w: series %s not ready", ErrInsufficientData, name)
			}
		}
	}

	ref := in.Frame.Series(indicator.SeriesSMA2)
	last := in.Candles[len(in.Candles)-1]
	return model.AnalysisResult{
		Pair:        in.Pair,
		Timeframe:   in.Timeframe,
		SMA10:       AnalyseAverage(in.Frame.Series(indicator.SeriesSMA10), ref),
		SMA21:       AnalyseAverage(in.Frame.Series(indicator.SeriesSMA21), ref),
		EMA10:       AnalyseAverage(in.Frame.Series(indicator.SeriesEMA10), ref),
		EMA21:       AnalyseAverage(in.Frame.Series(indicator.SeriesEMA21), ref),
		MACD:        AnalyseMACD(in.Frame.Series(indicator.SeriesMACDH), ref),
		RSI:         AnalyseRSI(in.Frame.Series(indicator.SeriesRSI14), RSIOversold, RSIOverbought),
		Candlestick: ClassifyCandlestick(in.Candles),
		Trend:       ClassifyTrend(in.Candles),
		Price:       last.Close,
		CandleID:    last.ID,
		ComputedAt:  time.Now().UTC(),
	}, nil
}
