// Package live pushes freshly materialized aggregate snapshots to connected
// dashboard clients over WebSocket, so the UI sees new rollups without
// polling the stats endpoint.
package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leadwatch/leadwatch/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Allow same-origin requests, or requests with no Origin header
		// (non-browser clients like curl and tests).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Hub manages WebSocket connections for live stats updates.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (total: %d)", count)
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected (total: %d)", count)
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("WebSocket write error: %v", err)
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			// Unregister failed connections without holding the lock.
			for _, conn := range failed {
				h.unregister <- conn
			}
		}
	}
}

// Broadcast sends a message to all connected clients. Drops the message if
// the channel is full rather than blocking the caller.
func (h *Hub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		log.Printf("Broadcast channel full, dropping message")
		return nil
	}
}

// HasClients returns true if any WebSocket client is connected.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.register <- conn

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Ping sender keeps the connection alive.
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		h.unregister <- conn
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Read loop handles control frames and detects connection close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}
