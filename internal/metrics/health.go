package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-engine/internal/model"
)

// Stream is a polled (pair, timeframe) whose freshness is reported.
type Stream interface {
	Pair() model.Pair
	Timeframe() model.Timeframe
	LastUpdate() time.Time
}

// StaleAfter is how long past one timeframe a stream may go without an update
// before it counts as stale.
const StaleAfter = 2 * time.Minute

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	RedisLatencyMs float64
	LastCheckAt    time.Time
	StartedAt      time.Time

	streams func() []Stream
	now     func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		now:       time.Now,
	}
}

// SetStreams installs the callback listing the streams to report.
func (h *HealthStatus) SetStreams(f func() []Stream) {
	h.mu.Lock()
	h.streams = f
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker pings Redis every interval until ctx is done. A nil client
// disables the probe.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	if rdb == nil {
		return
	}
	go func() {
		probe := func() {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.CheckRedis(probeCtx, rdb)
			cancel()
		}
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

type streamStatus struct {
	Pair       string `json:"pair"`
	Timeframe  string `json:"tf"`
	LastUpdate string `json:"last_update,omitempty"`
	Age        string `json:"age,omitempty"`
	Status     string `json:"status"` // pending, fresh, stale
}

type healthReport struct {
	Status         string         `json:"status"`
	Uptime         string         `json:"uptime"`
	RedisEnabled   bool           `json:"redis_enabled"`
	RedisConnected bool           `json:"redis_connected"`
	RedisLatencyMs float64        `json:"redis_latency_ms"`
	LastCheckAt    string         `json:"last_check_at,omitempty"`
	Streams        []streamStatus `json:"streams"`
}

func (h *HealthStatus) report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	r := healthReport{
		Status:         "healthy",
		Uptime:         now.Sub(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:   h.RedisEnabled,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		Streams:        []streamStatus{},
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	code := http.StatusOK
	if h.RedisEnabled && !h.RedisConnected {
		r.Status, code = "degraded", http.StatusServiceUnavailable
	}
	if h.streams == nil {
		return r, code
	}
	for _, s := range h.streams() {
		st := streamStatus{Pair: s.Pair().Name, Timeframe: s.Timeframe().String(), Status: "pending"}
		if lu := s.LastUpdate(); !lu.IsZero() {
			age := now.Sub(lu)
			st.LastUpdate = lu.Format(time.RFC3339)
			st.Age = age.Round(time.Second).String()
			st.Status = "fresh"
			if age > time.Duration(s.Timeframe().Seconds())*time.Second+StaleAfter {
				st.Status = "stale"
				r.Status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		r.Streams = append(r.Streams, st)
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	_ = json.NewEncoder(w).Encode(report)
}
