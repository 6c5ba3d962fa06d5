package model

import "context"

// ── Port Interfaces ──
// These decouple the polling and analysis logic from the concrete exchange client
// and the concrete result sinks (Redis, WebSocket feed).

// MarketData is the exchange capability the workers and the server clock depend on.
type MarketData interface {
	// FetchOHLC returns candles for pair with IDs after since, for the given
	// interval in minutes. Errors wrap ErrTransient or ErrMalformedResponse.
	FetchOHLC(ctx context.Context, pair Pair, since int64, intervalMinutes int) (OHLCBatch, error)

	// FetchServerTime returns the exchange clock in unix seconds.
	FetchServerTime(ctx context.Context) (int64, error)
}

// ResultPublisher receives every analysis result produced by the monitor.
type ResultPublisher interface {
	Publish(ctx context.Context, r AnalysisResult) error
}

// PublisherFunc adapts a function to ResultPublisher.
type PublisherFunc func(ctx context.Context, r AnalysisResult) error

func (f PublisherFunc) Publish(ctx context.Context, r AnalysisResult) error { return f(ctx, r) }
