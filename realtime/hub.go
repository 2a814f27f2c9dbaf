package realtime

import (
	"sync"

	"tutorhub/signaling/models"
	"tutorhub/signaling/utils"
)

// Hub tracks every open connection, joined or anonymous. Directed delivery
// goes through the presence registry; the hub only serves broadcasts and
// shutdown.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *utils.Logger
}

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "hub"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("Client connected", "conn_id", c.ID(), "user_id", c.identity.UserID, "connections", count)
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("Client disconnected", "conn_id", c.ID(), "connections", count)
	}
}

// Broadcast queues event on every open connection. Clients whose queue is
// full are dropped by Send.
func (h *Hub) Broadcast(event models.Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	data, err := encode(event)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", "event", event.Name, "error", err)
		return
	}
	for _, c := range clients {
		c.enqueue(data, event.Name)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}
