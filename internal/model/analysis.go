package model

import (
	"encoding/json"
	"time"
)

// Signal is the direction of a heuristic score.
type Signal int

const (
	Sell    Signal = -1
	Neutral Signal = 0
	Buy     Signal = 1
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "NEUTRAL"
	}
}

// SignalScore pairs a direction with a strength in [0, 10].
type SignalScore struct {
	Signal Signal  `json:"signal"`
	Power  float64 `json:"power"`
}

// CandlestickFigure classifies the most recent candle.
type CandlestickFigure string

const (
	FigureUndefined                   CandlestickFigure = "UNDEFINED"
	FigureHammerOrHangingMan          CandlestickFigure = "HAMMER_OR_HANGING_MAN"
	FigureReversedHammerOrFallingStar CandlestickFigure = "REVERSED_HAMMER_OR_FALLING_STAR"
	FigureSwallowing                  CandlestickFigure = "SWALLOWING"
	FigureHarami                      CandlestickFigure = "HARAMI"
)

// Trend classifies the body-weighted direction of the last candles.
type Trend string

const (
	TrendUndefined Trend = "UNDEFINED"
	TrendUp        Trend = "UP"
	TrendDown      Trend = "DOWN"
)

// AnalysisResult is one technical analysis run for a pair and timeframe.
// It is the output boundary of the engine: nothing downstream turns it into orders.
type AnalysisResult struct {
	ID          string            `json:"id"`
	Pair        string            `json:"pair"`
	Timeframe   Timeframe         `json:"tf"`
	SMA10       SignalScore       `json:"sma_10"`
	SMA21       SignalScore       `json:"sma_21"`
	EMA10       SignalScore       `json:"ema_10"`
	EMA21       SignalScore       `json:"ema_21"`
	MACD        SignalScore       `json:"macd"`
	RSI         SignalScore       `json:"rsi"`
	Candlestick CandlestickFigure `json:"candlestick"`
	Trend       Trend             `json:"trend"`
	Price       float64           `json:"price"`
	CandleID    int64             `json:"candle_id"`
	ComputedAt  time.Time         `json:"computed_at"`
}

// Key returns "{pair}:{tf}m", the history and latest-value key.
func (r *AnalysisResult) Key() string {
	return ResultKey(r.Pair, r.Timeframe)
}

// StreamKey returns the Redis stream key: "ta:{tf}m:{pair}".
func (r *AnalysisResult) StreamKey() string {
	return "ta:" + r.Timeframe.String() + ":" + r.Pair
}

// LatestKey returns the Redis key holding the most recent result.
func (r *AnalysisResult) LatestKey() string {
	return "ta:latest:" + r.Timeframe.String() + ":" + r.Pair
}

// PubSubChannel returns the live channel: "pub:ta:{tf}m:{pair}".
func (r *AnalysisResult) PubSubChannel() string {
	return "pub:" + r.StreamKey()
}

// JSON returns the JSON-encoded result.
func (r *AnalysisResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// ResultKey formats the per pair/timeframe key used by result history.
func ResultKey(pair string, tf Timeframe) string {
	return pair + ":" + tf.String()
}
