package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

type namedScore struct {
	name  string
	score model.SignalScore
}

func scores(r model.AnalysisResult) []namedScore {
	return []namedScore{
		{"SMA10", r.SMA10}, {"SMA21", r.SMA21},
		{"EMA10", r.EMA10}, {"EMA21", r.EMA21},
		{"MACD", r.MACD}, {"RSI", r.RSI},
	}
}

// Consensus is the majority direction of a result's six indicator scores.
func Consensus(r model.AnalysisResult, minAgree int) model.Signal {
	var buys, sells int
	for _, s := range scores(r) {
		switch s.score.Signal {
		case model.Buy:
			buys++
		case model.Sell:
			sells++
		}
	}
	switch {
	case buys >= minAgree && buys > sells:
		return model.Buy
	case sells >= minAgree && sells > buys:
		return model.Sell
	default:
		return model.Neutral
	}
}

// Alerter is a result publisher that sends an alert when a stream's consensus
// turns to BUY or SELL. The first result of each stream only sets the baseline.
type Alerter struct {
	notifier Notifier
	minAgree int
	log      *slog.Logger

	mu   sync.Mutex
	last map[string]model.Signal // by pair:tf
}

// NewAlerter alerts once at least minAgree scores point the same way.
func NewAlerter(n Notifier, minAgree int, log *slog.Logger) *Alerter {
	if minAgree <= 0 {
		minAgree = 4
	}
	return &Alerter{
		notifier: n,
		minAgree: minAgree,
		log:      logger.Component(log, "alerter"),
		last:     make(map[string]model.Signal),
	}
}

func (a *Alerter) Publish(ctx context.Context, r model.AnalysisResult) error {
	sig := Consensus(r, a.minAgree)
	key := r.Key()

	a.mu.Lock()
	prev, seen := a.last[key]
	a.last[key] = sig
	a.mu.Unlock()

	if !seen || sig == prev || sig == model.Neutral {
		return nil
	}
	a.log.Debug("consensus changed", "pair", r.Pair, "tf", r.Timeframe.String(), "from", prev.String(), "to", sig.String())
	return a.notifier.Send(ctx, alertFor(r, prev, sig, Consensus(r, len(scores(r))) == sig))
}

func alertFor(r model.AnalysisResult, prev, sig model.Signal, unanimous bool) Alert {
	var b strings.Builder
	fmt.Fprintf(&b, "price %g, candle %d, figure %s, trend %s\n", r.Price, r.CandleID, r.Candlestick, r.Trend)
	for _, s := range scores(r) {
		fmt.Fprintf(&b, "%s: %s %.1f\n", s.name, s.score.Signal, s.score.Power)
	}
	level := AlertInfo
	if unanimous {
		level = AlertWarning
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s %s (was %s)", r.Pair, r.Timeframe, sig, prev),
		Message: strings.TrimSuffix(b.String(), "\n"),
	}
}
