// Package broadcast fans alert lifecycle events out to connected dashboard
// clients over websockets. The core only emits events here; subscriber
// connections live and die inside the hub.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

// alertEvent is the wire format published on every alert transition.
type alertEvent struct {
	AlertID   string             `json:"alert_id"`
	Status    domain.AlertStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
}

// Hub tracks connected clients and broadcasts events to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// EmitAlertEvent broadcasts a lifecycle event to every connected client.
// Slow clients are dropped rather than blocking the emitter.
func (h *Hub) EmitAlertEvent(alertID string, status domain.AlertStatus, timestamp time.Time) {
	payload, err := json.Marshal(alertEvent{
		AlertID:   alertID,
		Status:    status,
		Timestamp: timestamp.UTC(),
	})
	if err != nil {
		slog.Error("failed to marshal alert event", "alert_id", alertID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Removing under the same lock guarantees no further sends
			// race with the channel close.
			slog.Warn("dropping slow broadcast client")
			delete(h.clients, c)
			c.closeOnce()
		}
	}
	recordClientCount(len(h.clients))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.closeOnce()
	}
	recordClientCount(0)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	recordClientCount(len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	recordClientCount(len(h.clients))
}
