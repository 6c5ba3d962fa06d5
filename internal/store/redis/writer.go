// Package redis publishes analysis results to Redis and reads them back.
//
// Keys per result, with tf formatted as "5m":
//
//	ta:{tf}:{pair}         stream of results (XADD, approximately trimmed)
//	ta:latest:{tf}:{pair}  most recent result (SET with TTL)
//	pub:ta:{tf}:{pair}     live channel (PUBLISH)
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

const (
	defaultStreamMaxLen = 1000
	minLatestTTL        = 30 * time.Minute
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Writer publishes analysis results. It implements model.ResultPublisher.
type Writer struct {
	client    *goredis.Client
	streamLen int64
	log       *slog.Logger
}

// NewWriter wraps client. streamLen <= 0 keeps about 1000 results per stream.
func NewWriter(client *goredis.Client, streamLen int64, log *slog.Logger) *Writer {
	if streamLen <= 0 {
		streamLen = defaultStreamMaxLen
	}
	return &Writer{client: client, streamLen: streamLen, log: logger.Component(log, "redis")}
}

// Publish writes XADD + SET + PUBLISH in one pipeline round trip.
func (w *Writer) Publish(ctx context.Context, res model.AnalysisResult) error {
	data := string(res.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: res.StreamKey(),
		MaxLen: w.streamLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, res.LatestKey(), data, latestTTL(res.Timeframe))
	pipe.Publish(ctx, res.PubSubChannel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", res.Key(), err)
	}
	w.log.Debug("result published", append(logger.LogWithTrace(ctx), "key", res.Key())...)
	return nil
}

// latestTTL keeps the latest value for three timeframes, at least 30 minutes.
func latestTTL(tf model.Timeframe) time.Duration {
	ttl := 3 * time.Duration(tf.Seconds()) * time.Second
	if ttl < minLatestTTL {
		return minLatestTTL
	}
	return ttl
}
