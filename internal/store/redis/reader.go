package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"signal-engine/internal/model"
)

// ErrNotFound is returned when no result is stored for a pair and timeframe.
var ErrNotFound = errors.New("no result stored")

// Reader reads results written by Writer.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

func keysFor(pair string, tf model.Timeframe) model.AnalysisResult {
	return model.AnalysisResult{Pair: strings.ToUpper(pair), Timeframe: tf}
}

// Latest returns the most recent result for pair and tf.
func (r *Reader) Latest(ctx context.Context, pair string, tf model.Timeframe) (model.AnalysisResult, error) {
	k := keysFor(pair, tf)
	data, err := r.client.Get(ctx, k.LatestKey()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return model.AnalysisResult{}, fmt.Errorf("%w: %s", ErrNotFound, k.Key())
	}
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("redis GET %s: %w", k.LatestKey(), err)
	}
	return decode(data)
}

// Recent returns up to n results for pair and tf, oldest first.
func (r *Reader) Recent(ctx context.Context, pair string, tf model.Timeframe, n int64) ([]model.AnalysisResult, error) {
	k := keysFor(pair, tf)
	msgs, err := r.client.XRevRangeN(ctx, k.StreamKey(), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", k.StreamKey(), err)
	}
	out := make([]model.AnalysisResult, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		res, err := decodeMessage(msgs[i].Values)
		if err != nil {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// Subscribe streams live results matching the channel patterns (default
// "pub:ta:*") into out until ctx is done. Undecodable payloads are skipped.
func (r *Reader) Subscribe(ctx context.Context, out chan<- model.AnalysisResult, patterns ...string) error {
	if len(patterns) == 0 {
		patterns = []string{"pub:ta:*"}
	}
	pubsub := r.client.PSubscribe(ctx, patterns...)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis PSUBSCRIBE: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			res, err := decode([]byte(msg.Payload))
			if err != nil {
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func decodeMessage(values map[string]interface{}) (model.AnalysisResult, error) {
	s, ok := values["data"].(string)
	if !ok {
		return model.AnalysisResult{}, errors.New("stream entry without data field")
	}
	return decode([]byte(s))
}

func decode(data []byte) (model.AnalysisResult, error) {
	var res model.AnalysisResult
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}
