package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-engine/internal/analysis"
	"signal-engine/internal/bus"
	"signal-engine/internal/logger"
	"signal-engine/internal/model"
	"signal-engine/internal/scheduler"
	redisstore "signal-engine/internal/store/redis"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Kraken client
	APICalls            *prometheus.CounterVec   // labels: endpoint, outcome
	APICallDur          *prometheus.HistogramVec // labels: endpoint
	RateLimitRejections prometheus.Counter
	RateLimitCounter    prometheus.Gauge
	ServerTimeFetches   prometheus.Counter

	// Workers
	Retries         *prometheus.CounterVec // labels: op, reason
	CandlesIngested *prometheus.CounterVec // labels: pair, tf
	IchimokuPoints  *prometheus.CounterVec // labels: pair, tf
	WorkerState     *prometheus.GaugeVec   // labels: pair, tf; 0=idle 1=running 2=stopping 3=stopped
	NextFetchDelay  *prometheus.GaugeVec   // labels: pair, tf

	// Analysis
	AnalysisRuns  *prometheus.CounterVec // labels: pair, tf, result
	AnalysisDur   prometheus.Histogram
	PublishErrors *prometheus.CounterVec // labels: publisher
	PublishDrops  *prometheus.CounterVec // labels: publisher
	FeedClients   prometheus.Gauge

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisBufferDrops         prometheus.Counter
	RedisReplayedWrites      prometheus.Counter
}

// NewMetrics registers all metrics on reg, or on the default registerer when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stream := []string{"pair", "tf"}
	m := &Metrics{
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_api_calls_total",
			Help: "Kraken public API calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		APICallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalengine_api_call_duration_seconds",
			Help:    "Kraken public API call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		RateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_rate_limit_rejections_total",
			Help: "Reservations refused by the API call counter",
		}),
		RateLimitCounter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_rate_limit_counter",
			Help: "Current value of the API call counter",
		}),
		ServerTimeFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_server_time_fetches_total",
			Help: "Real server time fetches (cache misses)",
		}),

		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_retries_total",
			Help: "Worker retries by operation and reason",
		}, []string{"op", "reason"}),
		CandlesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_candles_ingested_total",
			Help: "New candles stored per stream",
		}, stream),
		IchimokuPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_ichimoku_points_total",
			Help: "Ichimoku points computed per stream",
		}, stream),
		WorkerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalengine_worker_state",
			Help: "Worker lifecycle state (0=idle, 1=running, 2=stopping, 3=stopped)",
		}, stream),
		NextFetchDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalengine_next_fetch_delay_seconds",
			Help: "Sleep chosen by the worker before its next check",
		}, stream),

		AnalysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_analysis_runs_total",
			Help: "Analysis attempts by stream and result (ok, insufficient, error)",
		}, []string{"pair", "tf", "result"}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_analysis_duration_seconds",
			Help:    "Time to snapshot and analyse one stream",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_publish_errors_total",
			Help: "Failed result publications by publisher",
		}, []string{"publisher"}),
		PublishDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_publish_drops_total",
			Help: "Results dropped because a publisher's queue was full",
		}, []string{"publisher"}),
		FeedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_feed_clients",
			Help: "Connected result feed websocket clients",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_buffered_writes_total",
			Help: "Results buffered locally while the Redis circuit breaker was open",
		}),
		RedisBufferDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_buffer_drops_total",
			Help: "Buffered results discarded because the local buffer was full",
		}),
		RedisReplayedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_replayed_writes_total",
			Help: "Buffered results written to Redis after the circuit breaker closed",
		}),
	}

	reg.MustRegister(
		m.APICalls,
		m.APICallDur,
		m.RateLimitRejections,
		m.RateLimitCounter,
		m.ServerTimeFetches,
		m.Retries,
		m.CandlesIngested,
		m.IchimokuPoints,
		m.WorkerState,
		m.NextFetchDelay,
		m.AnalysisRuns,
		m.AnalysisDur,
		m.PublishErrors,
		m.PublishDrops,
		m.FeedClients,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisBufferDrops,
		m.RedisReplayedWrites,
	)
	return m
}

// ObserveAPI matches the Kraken client's OnRequest hook.
func (m *Metrics) ObserveAPI(endpoint, outcome string, d time.Duration) {
	m.APICalls.WithLabelValues(endpoint, outcome).Inc()
	m.APICallDur.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveAnalysis matches the monitor's OnRun hook.
func (m *Metrics) ObserveAnalysis(pair string, tf model.Timeframe, d time.Duration, err error) {
	result := "ok"
	switch {
	case errors.Is(err, analysis.ErrInsufficientData):
		result = "insufficient"
	case err != nil:
		result = "error"
	}
	m.AnalysisRuns.WithLabelValues(pair, tf.String(), result).Inc()
	m.AnalysisDur.Observe(d.Seconds())
}

// InstrumentBus counts queue drops and publish failures of each subscriber.
func (m *Metrics) InstrumentBus(f *bus.FanOut) {
	f.OnDrop = func(name string) { m.PublishDrops.WithLabelValues(name).Inc() }
	f.OnError = func(name string, _ error) { m.PublishErrors.WithLabelValues(name).Inc() }
}

// InstrumentBuffer wires the Redis fallback buffer hooks.
func (m *Metrics) InstrumentBuffer(bp *redisstore.BufferedPublisher) {
	bp.OnBuffer = m.RedisBufferedWrites.Inc
	bp.OnDrop = m.RedisBufferDrops.Inc
	bp.OnFlush = func(n int) { m.RedisReplayedWrites.Add(float64(n)) }
}

// SchedulerHooks returns worker callbacks feeding these metrics.
func (m *Metrics) SchedulerHooks() scheduler.Hooks {
	return scheduler.Hooks{
		OnRetry: func(op, reason string) {
			m.Retries.WithLabelValues(op, reason).Inc()
		},
		OnFeed: func(pair string, tf model.Timeframe, added, ichimoku int) {
			m.CandlesIngested.WithLabelValues(pair, tf.String()).Add(float64(added))
			if ichimoku > 0 {
				m.IchimokuPoints.WithLabelValues(pair, tf.String()).Add(float64(ichimoku))
			}
		},
		OnState: func(pair string, tf model.Timeframe, s scheduler.State) {
			m.WorkerState.WithLabelValues(pair, tf.String()).Set(float64(s))
		},
		OnSleep: func(pair string, tf model.Timeframe, d time.Duration) {
			m.NextFetchDelay.WithLabelValues(pair, tf.String()).Set(d.Seconds())
		},
	}
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.Component(log, "metrics"),
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
