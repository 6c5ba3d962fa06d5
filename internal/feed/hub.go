// Package feed streams analysis results to websocket clients.
//
// Clients connect to /ws, optionally send
//
//	{"type":"SUBSCRIBE","pairs":["XBTEUR"],"tfs":[5,15]}
//
// and receive envelopes {"type":"analysis","channel":"pub:ta:5m:XBTEUR","seq":N,"data":{...}}.
// On connect and on every SUBSCRIBE the latest retained result of each matching
// stream is sent with "initial":true.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

// LatestSource provides the results replayed to new clients.
type LatestSource interface {
	LatestAll() []model.AnalysisResult
}

// Envelope is one message sent to clients.
type Envelope struct {
	Type    string                `json:"type"`
	Channel string                `json:"channel,omitempty"`
	Seq     int64                 `json:"seq,omitempty"`
	Initial bool                  `json:"initial,omitempty"`
	TS      string                `json:"ts"`
	Data    *model.AnalysisResult `json:"data,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Hub tracks connected clients and fans results out to them. It implements
// model.ResultPublisher.
type Hub struct {
	latest LatestSource
	log    *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	// OnClients is called with the client count after every connect or disconnect.
	OnClients func(n int)
}

// NewHub creates a hub. latest may be nil.
func NewHub(latest LatestSource, log *slog.Logger) *Hub {
	return &Hub{
		latest:  latest,
		log:     logger.Component(log, "feed"),
		clients: make(map[*Client]bool),
	}
}

// Publish broadcasts res to every client whose filter matches. Slow clients
// miss messages instead of blocking the hub.
func (h *Hub) Publish(ctx context.Context, res model.AnalysisResult) error {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	msg, err := json.Marshal(Envelope{
		Type:    "analysis",
		Channel: res.PubSubChannel(),
		Seq:     seq,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Data:    &res,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(res.Pair, res.Timeframe) {
			continue
		}
		if !c.trySend(msg) {
			h.log.Debug("client queue full, dropping", "key", res.Key())
		}
	}
	return nil
}

// Register attaches an upgraded connection and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := newClient(conn, h)

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.notify(n)
	h.log.Info("client connected", "clients", n)

	c.sendInitial()
	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	c.closeSend()
	h.mu.Unlock()
	h.notify(n)
	h.log.Info("client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) notify(n int) {
	if h.OnClients != nil {
		h.OnClients(n)
	}
}
