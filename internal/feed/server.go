package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

// ResultStore is the in-memory result history served over REST.
type ResultStore interface {
	LatestSource
	Results(pair string, tf model.Timeframe) []model.AnalysisResult
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Routes registers /ws, /api/results/latest and /api/results on mux.
func Routes(mux *http.ServeMux, hub *Hub, store ResultStore) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", "error", err)
			return
		}
		hub.Register(conn)
	})

	// latest result of every stream
	mux.HandleFunc("/api/results/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.LatestAll())
	})

	// /api/results?pair=XBTEUR&tf=5 returns the retained history, oldest first
	mux.HandleFunc("/api/results", func(w http.ResponseWriter, r *http.Request) {
		pair := strings.ToUpper(r.URL.Query().Get("pair"))
		tf, err := model.ParseTimeframe(r.URL.Query().Get("tf"))
		if pair == "" || err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pair and a supported tf are required"})
			return
		}
		writeJSON(w, http.StatusOK, store.Results(pair, tf))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server serves the feed routes.
type Server struct {
	addr string
	hub  *Hub
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates the feed HTTP server.
func NewServer(addr string, hub *Hub, store ResultStore, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, hub, store)
	return &Server{
		addr: addr,
		hub:  hub,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.Component(log, "feed"),
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

// Stop disconnects clients and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	return s.srv.Shutdown(ctx)
}
