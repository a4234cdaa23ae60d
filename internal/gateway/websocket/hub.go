// Package websocket provides the WebSocket gateway between UI clients and the backend.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	ws "github.com/agpstudio/agp/pkg/websocket"
)

// outbound is a frame queued for fan-out. An empty projectID targets every
// connected client; otherwise only members of that project's room receive it.
type outbound struct {
	projectID string
	data      []byte
}

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients grouped by project room
	rooms map[string]map[*Client]bool

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Channel for broadcasting envelopes
	broadcast chan outbound

	// Message dispatcher
	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
		dispatcher: dispatcher,
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case frame := <-h.broadcast:
			h.deliver(frame)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.rooms = make(map[string]map[*Client]bool)
}

// removeClient removes a client from the hub
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		// Remove from all project rooms
		for projectID := range client.rooms {
			if members, ok := h.rooms[projectID]; ok {
				delete(members, client)
				if len(members) == 0 {
					delete(h.rooms, projectID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// deliver fans a frame out to its target clients. A client whose send queue
// is full is disconnected rather than allowed to stall everyone else.
func (h *Hub) deliver(frame outbound) {
	h.mu.RLock()
	var targets map[*Client]bool
	if frame.projectID == "" {
		targets = h.clients
	} else {
		targets = h.rooms[frame.projectID]
	}

	var slow []*Client
	for client := range targets {
		select {
		case client.send <- frame.data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Disconnecting slow WebSocket consumer",
			zap.String("client_id", client.ID),
			zap.String("project_id", frame.projectID))
		h.removeClient(client)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastAll queues an envelope for every connected client. Returns
// immediately; the frame is dropped with a log if the hub queue is full.
func (h *Hub) BroadcastAll(env *ws.Envelope) {
	h.enqueue("", env)
}

// BroadcastProject queues an envelope for clients in the project's room.
func (h *Hub) BroadcastProject(projectID string, env *ws.Envelope) {
	h.enqueue(projectID, env)
}

func (h *Hub) enqueue(projectID string, env *ws.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- outbound{projectID: projectID, data: data}:
	default:
		h.logger.Warn("Hub broadcast queue full, dropping envelope",
			zap.String("event_type", string(env.Type)),
			zap.String("project_id", projectID))
	}
}

// JoinRoom subscribes a client to a project's envelopes
func (h *Hub) JoinRoom(client *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[projectID]; !ok {
		h.rooms[projectID] = make(map[*Client]bool)
	}
	h.rooms[projectID][client] = true
	client.rooms[projectID] = true

	h.logger.Debug("Client joined project room",
		zap.String("client_id", client.ID),
		zap.String("project_id", projectID))
}

// LeaveRoom unsubscribes a client from a project's envelopes
func (h *Hub) LeaveRoom(client *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.rooms, projectID)
	if members, ok := h.rooms[projectID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, projectID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in a project room
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectID])
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
