// Package bus decouples result producers from slow publishers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

type subscriber struct {
	name   string
	target model.ResultPublisher
	ch     chan envelope
}

type envelope struct {
	ctx context.Context
	res model.AnalysisResult
}

// FanOut hands every published result to each attached publisher on its own
// goroutine. A full subscriber queue drops the result for that subscriber only.
type FanOut struct {
	mu      sync.RWMutex
	subs    []*subscriber
	bufSize int
	closed  bool
	wg      sync.WaitGroup
	log     *slog.Logger

	// OnDrop is called when a subscriber's queue is full.
	OnDrop func(name string)
	// OnError is called when a subscriber fails to publish.
	OnError func(name string, err error)
}

// New creates a FanOut with per-subscriber queues of bufSize.
func New(bufSize int, log *slog.Logger) *FanOut {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &FanOut{bufSize: bufSize, log: logger.Component(log, "bus")}
}

// Attach starts a delivery goroutine for target.
func (f *FanOut) Attach(name string, target model.ResultPublisher) {
	s := &subscriber{name: name, target: target, ch: make(chan envelope, f.bufSize)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.subs = append(f.subs, s)
	f.wg.Add(1)
	go f.deliver(s)
}

func (f *FanOut) deliver(s *subscriber) {
	defer f.wg.Done()
	for env := range s.ch {
		if err := s.target.Publish(env.ctx, env.res); err != nil {
			if f.OnError != nil {
				f.OnError(s.name, err)
			}
			f.log.Warn("publish failed", append(logger.LogWithTrace(env.ctx), "subscriber", s.name, "key", env.res.Key(), "error", err)...)
		}
	}
}

// Publish queues res for every subscriber. It never blocks and never fails.
func (f *FanOut) Publish(ctx context.Context, res model.AnalysisResult) error {
	// detach from the caller's cancellation, keep its values (trace id)
	env := envelope{ctx: context.WithoutCancel(ctx), res: res}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil
	}
	for _, s := range f.subs {
		select {
		case s.ch <- env:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			}
			f.log.Warn("subscriber queue full, dropping result", "subscriber", s.name, "key", res.Key())
		}
	}
	return nil
}

// Close stops accepting results and waits until queued ones are delivered.
func (f *FanOut) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, s := range f.subs {
		close(s.ch)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

// QueueStat is the (length, capacity) of one subscriber queue.
type QueueStat struct {
	Name string
	Len  int
	Cap  int
}

// Stats reports the queue fill of every subscriber.
func (f *FanOut) Stats() []QueueStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]QueueStat, len(f.subs))
	for i, s := range f.subs {
		out[i] = QueueStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return out
}
