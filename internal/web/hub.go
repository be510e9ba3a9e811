// Package web exposes the HTTP API and the live WebSocket stream.
package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skywatch-data/nightscan/internal/monitoring"
	"github.com/skywatch-data/nightscan/internal/pipeline"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsPingInterval  = 30 * time.Second
	wsMaxClientRead = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The stream carries no secrets and the service runs on trusted
		// networks; tighten this before exposing it publicly.
		return true
	},
}

// wsClient wraps a connection with a write lock. gorilla/websocket allows a
// single concurrent writer, and both broadcasts and the ping loop write to
// the same connection.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans pipeline messages out to connected WebSocket clients. It
// implements pipeline.PublishSink.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	monitoring.Debugf("ws: client registered (total %d)", h.ClientCount())
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements pipeline.PublishSink: the message is JSON-encoded and
// broadcast to every client. Clients that fail a write are dropped.
func (h *Hub) Publish(m pipeline.Message) {
	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		monitoring.Logf("ws: marshal message: %v", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast sends raw bytes to every connected client.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, message); err != nil {
			monitoring.Debugf("ws: dropping client: %v", err)
			h.unregister(c)
			c.conn.Close()
		}
	}
}

// HandleWS upgrades the request and keeps the connection registered until the
// client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("ws: upgrade: %v", err)
		return
	}
	c := &wsClient{conn: conn}
	h.register(c)
	go h.readPump(c)
}

// readPump drains client messages to detect disconnection and keeps the
// connection alive with pings. The ping goroutine is tied to the pump's
// lifetime through done so it cannot outlive the connection.
func (h *Hub) readPump(c *wsClient) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxClientRead)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				monitoring.Debugf("ws: read: %v", err)
			}
			return
		}
	}
}
