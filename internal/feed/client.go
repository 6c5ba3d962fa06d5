package feed

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 256
)

// Client is one websocket peer.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	filterMu sync.RWMutex
	pairs    map[string]bool // empty means all
	tfs      map[model.Timeframe]bool
}

// SubscribeMsg narrows the streams a client receives. Empty lists mean all.
type SubscribeMsg struct {
	Type  string            `json:"type"`
	Pairs []string          `json:"pairs"`
	TFs   []model.Timeframe `json:"tfs"`
}

func newClient(conn *websocket.Conn, h *Hub) *Client {
	return &Client{conn: conn, hub: h, send: make(chan []byte, sendQueue)}
}

func (c *Client) matches(pair string, tf model.Timeframe) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.pairs) > 0 && !c.pairs[pair] {
		return false
	}
	if len(c.tfs) > 0 && !c.tfs[tf] {
		return false
	}
	return true
}

func (c *Client) setFilter(msg SubscribeMsg) {
	pairs := make(map[string]bool, len(msg.Pairs))
	for _, p := range msg.Pairs {
		pairs[strings.ToUpper(strings.TrimSpace(p))] = true
	}
	tfs := make(map[model.Timeframe]bool, len(msg.TFs))
	for _, tf := range msg.TFs {
		tfs[tf] = true
	}
	c.filterMu.Lock()
	c.pairs, c.tfs = pairs, tfs
	c.filterMu.Unlock()
}

// trySend queues msg without blocking; false if the queue is full or closed.
func (c *Client) trySend(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendJSON(env Envelope) {
	if env.TS == "" {
		env.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.trySend(b)
}

// sendInitial replays the latest retained result of every matching stream.
func (c *Client) sendInitial() {
	if c.hub.latest == nil {
		return
	}
	for _, res := range c.hub.latest.LatestAll() {
		if !c.matches(res.Pair, res.Timeframe) {
			continue
		}
		c.sendJSON(Envelope{
			Type:    "analysis",
			Channel: res.PubSubChannel(),
			Initial: true,
			TS:      res.ComputedAt.UTC().Format(time.RFC3339Nano),
			Data:    &res,
		})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg SubscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendJSON(Envelope{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		switch msg.Type {
		case "SUBSCRIBE":
			if err := validTFs(msg.TFs); err != nil {
				c.sendJSON(Envelope{Type: "error", Error: err.Error()})
				continue
			}
			c.setFilter(msg)
			c.sendJSON(Envelope{Type: "subscribed"})
			c.sendInitial()
		case "PING":
			c.sendJSON(Envelope{Type: "pong"})
		default:
			c.sendJSON(Envelope{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}

func validTFs(tfs []model.Timeframe) error {
	for _, tf := range tfs {
		if err := tf.Validate(); err != nil {
			return err
		}
	}
	return nil
}
