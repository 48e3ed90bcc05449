package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"webphone-platform/internal/config"

	"github.com/gorilla/websocket"
)

// Publisher is the interface the router and reconciler publish through.
// Delivery is best-effort: the authoritative state lives in Postgres, the
// channel only accelerates the UI.
type Publisher interface {
	Publish(ctx context.Context, userID string, ev Event) error
}

// Hub tracks one websocket connection set per user and fans events out.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]struct{}

	pingInterval time.Duration
	writeTimeout time.Duration

	log *slog.Logger
}

func NewHub(cfg config.RealtimeConfig, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns:        make(map[string]map[*conn]struct{}),
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		log:          log,
	}
}

// Publish sends ev to every open connection of userID. Slow consumers are
// dropped rather than blocking the caller.
func (h *Hub) Publish(ctx context.Context, userID string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- raw:
		default:
			h.log.Warn("realtime: dropping slow consumer", "user_id", userID)
			h.remove(userID, c)
			c.close()
		}
	}
	return nil
}

// Attach takes ownership of an upgraded websocket connection for userID
// and runs its read/write pumps until the peer goes away.
func (h *Hub) Attach(ws *websocket.Conn, userID string) {
	c := &conn{ws: ws, send: make(chan []byte, 16), done: make(chan struct{})}

	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c) // blocks until the peer disconnects

	h.remove(userID, c)
	c.close()
}

// Close drops every open connection; used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.conns {
		for c := range set {
			c.close()
		}
		delete(h.conns, userID)
	}
}

func (h *Hub) remove(userID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (h *Hub) readPump(c *conn) {
	c.ws.SetReadLimit(4 << 10)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.pingInterval + h.writeTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.pingInterval + h.writeTimeout))
	})

	// The channel is server→client only; inbound frames are drained so
	// control frames keep flowing.
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
