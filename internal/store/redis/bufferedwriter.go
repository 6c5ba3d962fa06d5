package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

const defaultMaxBuffered = 1000

// BufferedPublisher guards a publisher with a circuit breaker. While the breaker
// is open results are kept locally, oldest dropped first, and replayed once a
// probe closes it again.
type BufferedPublisher struct {
	target model.ResultPublisher
	cb     *CircuitBreaker
	ctx    context.Context
	log    *slog.Logger

	mu     sync.Mutex
	buffer []model.AnalysisResult
	maxBuf int

	OnBuffer func()          // a result was buffered
	OnDrop   func()          // the buffer was full and the oldest result was dropped
	OnFlush  func(count int) // buffered results were replayed
}

// NewBufferedPublisher wraps target. ctx bounds the background replays.
func NewBufferedPublisher(ctx context.Context, target model.ResultPublisher, cb *CircuitBreaker, maxBuffered int, log *slog.Logger) *BufferedPublisher {
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBuffered
	}
	bp := &BufferedPublisher{
		target: target,
		cb:     cb,
		ctx:    ctx,
		log:    logger.Component(log, "buffered-publisher"),
		maxBuf: maxBuffered,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed && from != StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// Publish forwards res through the breaker. A rejected call buffers res and
// reports success; a failed call is returned to the caller.
func (bp *BufferedPublisher) Publish(ctx context.Context, res model.AnalysisResult) error {
	err := bp.cb.Execute(func() error { return bp.target.Publish(ctx, res) })
	if errors.Is(err, ErrCircuitOpen) {
		bp.bufferResult(res)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferResult(res model.AnalysisResult) {
	bp.mu.Lock()
	dropped := false
	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
		dropped = true
	}
	bp.buffer = append(bp.buffer, res)
	bp.mu.Unlock()

	if dropped && bp.OnDrop != nil {
		bp.OnDrop()
	}
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered results in order. Results that fail again are dropped.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	pending := bp.buffer
	bp.buffer = nil
	bp.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	flushed := 0
	for _, res := range pending {
		if err := bp.target.Publish(bp.ctx, res); err != nil {
			bp.log.Warn("replay failed", "key", res.Key(), "error", err)
			continue
		}
		flushed++
	}
	bp.log.Info("flushed buffered results", "count", flushed, "pending", len(pending))
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered results.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
