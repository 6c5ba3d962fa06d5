// Package krakensim serves a simulated Kraken public API (Time and OHLC) for
// staging runs and client tests, without touching the real exchange.
//
// Candles are a deterministic function of pair, interval and bucket time, so two
// requests for the same bucket always agree, as they would against the exchange.
package krakensim

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// maxCandles mirrors the exchange's cap of 720 rows per OHLC answer.
const maxCandles = 720

// Config configures a Server.
type Config struct {
	Pairs []model.Pair
	// Now is the simulated exchange clock. Default time.Now.
	Now func() time.Time
	// FailEvery makes every Nth request answer 503 (0 disables).
	FailEvery int
	Logger    *slog.Logger
}

// Server is an http.Handler for /0/public/Time and /0/public/OHLC.
type Server struct {
	pairs map[string]model.Pair // by request name
	now   func() time.Time

	failEvery int
	requests  atomic.Int64
	mux       *http.ServeMux
	log       *slog.Logger
}

// New builds a simulator serving the given pairs.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		pairs:     make(map[string]model.Pair, len(cfg.Pairs)),
		now:       cfg.Now,
		failEvery: cfg.FailEvery,
		log:       cfg.Logger.With(slog.String("component", "krakensim")),
	}
	for _, p := range cfg.Pairs {
		s.pairs[p.Name] = p
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/0/public/Time", s.handleTime)
	s.mux.HandleFunc("/0/public/OHLC", s.handleOHLC)
	return s
}

// Requests returns how many requests were served.
func (s *Server) Requests() int64 { return s.requests.Load() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)
	if s.failEvery > 0 && n%int64(s.failEvery) == 0 {
		s.log.Debug("injected failure", "path", r.URL.Path, "request", n)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	s.mux.ServeHTTP(w, r)
}

type envelope struct {
	Error  []string `json:"error"`
	Result any      `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, env envelope) {
	if env.Error == nil {
		env.Error = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	writeJSON(w, envelope{Result: map[string]any{
		"unixtime": now.Unix(),
		"rfc1123":  now.Format(time.RFC1123),
	}})
}

func (s *Server) handleOHLC(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pair, ok := s.pairs[q.Get("pair")]
	if !ok {
		writeJSON(w, envelope{Error: []string{"EQuery:Unknown asset pair"}})
		return
	}

	interval := 1
	if v := q.Get("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || model.Timeframe(n).Validate() != nil {
			writeJSON(w, envelope{Error: []string{"EGeneral:Invalid arguments"}})
			return
		}
		interval = n
	}
	since, _ := strconv.ParseInt(q.Get("since"), 10, 64)

	step := int64(interval) * 60
	current := s.now().Unix() / step * step
	first := current - (maxCandles-1)*step
	if since >= first {
		first = (since/step + 1) * step
	}

	rows := make([][]any, 0, maxCandles)
	for t := first; t <= current; t += step {
		rows = append(rows, row(pair.Name, step, t))
	}
	writeJSON(w, envelope{Result: map[string]any{
		pair.ResultKey: rows,
		"last":         current - step,
	}})
}

// row renders one bucket in the exchange's wire shape: prices and volumes are
// strings, time and count are numbers.
func row(pair string, step, t int64) []any {
	o, h, l, c, vol, count := bucket(pair, step, t)
	vwap := (h + l + c) / 3
	return []any{
		t,
		price(o), price(h), price(l), price(c), price(vwap),
		decimal.NewFromFloat(vol).StringFixed(8),
		count,
	}
}

func price(v float64) string { return decimal.NewFromFloat(v).StringFixed(1) }

// bucket derives OHLC for one bucket from a smooth wave plus hashed noise.
func bucket(pair string, step, t int64) (o, h, l, c, vol float64, count int64) {
	base := 100 + float64(seed(pair)%50000)
	mid := func(ts int64) float64 {
		return base * (1 + 0.03*math.Sin(float64(ts)/(float64(step)*24)) + 0.004*noise(pair, ts))
	}
	o = mid(t - step)
	c = mid(t)
	wick := base * 0.002 * (1 + math.Abs(noise(pair, t+1)))
	h = math.Max(o, c) + wick
	l = math.Min(o, c) - wick
	vol = 1 + math.Abs(noise(pair, t+2))*10
	count = 1 + int64(seed(pair+strconv.FormatInt(t, 10))%200)
	return
}

func seed(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// noise maps (pair, t) to [-1, 1].
func noise(pair string, t int64) float64 {
	v := seed(pair + ":" + strconv.FormatInt(t, 10))
	return float64(v%20001)/10000 - 1
}
