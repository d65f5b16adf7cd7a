package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"choreboard/internal/remote"
)

// Hub maintains the set of active WebSocket clients, partitioned by family,
// and fans canonical change events out to every device in that family.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client under its family.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	fam := h.clients[c.familyID]
	if fam == nil {
		fam = make(map[*Client]struct{})
		h.clients[c.familyID] = fam
	}
	fam[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if fam, ok := h.clients[c.familyID]; ok {
		if _, ok := fam[c]; ok {
			delete(fam, c)
			close(c.send)
		}
		if len(fam) == 0 {
			delete(h.clients, c.familyID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a change event to every client connected for the family.
func (h *Hub) Broadcast(familyID string, ev remote.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[familyID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of clients connected for a family.
func (h *Hub) ClientCount(familyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[familyID])
}
