// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "visualizer/internal/log"
	"visualizer/internal/visual"
)

// minSendInterval rate-limits broadcasts so a fast pipeline cannot
// flood slow clients; sets above the rate are dropped, matching the
// latest-value-wins semantics of the feed.
const minSendInterval = 16 * time.Millisecond

// WebSocketTransport broadcasts parameter sets as JSON to every
// connected client. Clients connect to ws://host:port/feed.
type WebSocketTransport struct {
	clients  map[*websocket.Conn]bool
	mu       sync.Mutex
	upgrader websocket.Upgrader
	server   *http.Server
	lastSend time.Time
}

// NewWebSocketTransport starts an HTTP server on the given port and
// serves the /feed WebSocket endpoint from it.
func NewWebSocketTransport(port string) *WebSocketTransport {
	t := &WebSocketTransport{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local visualization clients only; no origin policy.
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", t.handleWebSocket)
	t.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		applog.Infof("Transport: WebSocket feed listening on port %s", port)
		if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
			applog.Errorf("Transport: WebSocket server error: %v", err)
		}
	}()

	return t
}

// handleWebSocket upgrades the connection and registers the client. A
// reader goroutine watches for the client going away and deregisters
// it.
func (t *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("Transport: WebSocket upgrade error: %v", err)
		return
	}

	t.mu.Lock()
	t.clients[conn] = true
	n := len(t.clients)
	t.mu.Unlock()
	applog.Infof("Transport: WebSocket client connected (%d total)", n)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				t.mu.Lock()
				delete(t.clients, conn)
				t.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

// Send broadcasts the set to all clients, dropping it if the previous
// broadcast was less than minSendInterval ago. Clients that fail a
// write are disconnected.
func (t *WebSocketTransport) Send(ps visual.ParameterSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastSend) < minSendInterval {
		return nil
	}
	if len(t.clients) == 0 {
		return nil
	}
	t.lastSend = now

	payload, err := json.Marshal(ps)
	if err != nil {
		return err
	}

	for client := range t.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			client.Close()
			delete(t.clients, client)
		}
	}
	return nil
}

// Close disconnects all clients and shuts down the HTTP server.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	for client := range t.clients {
		client.Close()
		delete(t.clients, client)
	}
	t.mu.Unlock()

	return t.server.Close()
}

var _ Transport = (*WebSocketTransport)(nil)
