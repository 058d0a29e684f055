// Package events pushes pipeline status notifications to connected websocket
// clients. Delivery is best-effort and at-least-once; receivers are expected
// to be idempotent, and a client that cannot keep up is dropped rather than
// back-pressuring the pipeline.
package events

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aureopos/aureo/internal/storage"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The operator UI is served from a different origin in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans events out to all connected clients. It implements the notifier
// interfaces of both the watcher and the pipeline.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		logger:  slog.Default(),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades the request to a websocket and keeps the connection
// registered until the client goes away.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		h.mu.Lock()
		h.clients[conn] = struct{}{}
		h.mu.Unlock()

		// Clients only listen; the read loop exists to detect disconnects.
		go func() {
			defer h.drop(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// WatcherActive broadcasts a watcher lifecycle change.
func (h *Hub) WatcherActive(active bool) {
	h.broadcast("watcherStatus", map[string]any{"active": active})
}

// FileDetected broadcasts a newly detected file.
func (h *Hub) FileDetected(a storage.FileActivity) {
	h.broadcast("fileDetected", map[string]any{
		"id":        a.ID,
		"filename":  a.Filename,
		"storeCode": a.StoreCode,
		"fileType":  a.FileType,
		"status":    a.Status,
	})
}

// ProcessingStatus broadcasts a per-file status transition.
func (h *Hub) ProcessingStatus(activityID, status, errorMessage string) {
	data := map[string]any{"fileId": activityID, "status": status}
	if errorMessage != "" {
		data["errorMessage"] = errorMessage
	}
	h.broadcast("fileProcessingStatus", data)
}

func (h *Hub) broadcast(event string, data any) {
	msg := envelope{Event: event, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Warn("dropping slow websocket client", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	conn.Close()
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}
