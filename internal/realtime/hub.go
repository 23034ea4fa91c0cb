// Package realtime fans events out to websocket clients by topic.
package realtime

import (
	"sync"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Hub tracks connected clients. It satisfies palette.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Register starts delivering to client
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID()] = client
}

// Unregister forgets and closes a client
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes msg once and queues it for every subscriber of topic.
// Subscribers that cannot keep up are dropped.
func (h *Hub) Publish(topic string, msg types.Outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.IsSubscribed(topic) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	frame, err := sonic.Marshal(msg)
	if err != nil {
		h.logger.Warn("Failed to encode event", zap.String("topic", topic), zap.String("event", msg.Event), zap.Error(err))
		return
	}

	for _, client := range clients {
		if client.Queue(frame) {
			continue
		}
		h.logger.Warn("Dropping slow client", zap.String("conn", client.ID()), zap.String("topic", topic))
		h.Unregister(client.ID())
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
