package devserver

import (
	"encoding/json"
	"sync"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/pkg/logger"

	"github.com/google/uuid"
)

// Hub fans push frames out to every connection of a user (multi-device).
type Hub struct {
	// Registered clients: UserID -> connections
	clients map[uuid.UUID][]*wsClient

	register   chan *wsClient
	unregister chan *wsClient
	quit       chan struct{}
	done       chan struct{}

	mu     sync.RWMutex
	logger logger.ILogger
}

func NewHub(log logger.ILogger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID][]*wsClient),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     log,
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.quit:
			h.mu.Lock()
			for userID, clients := range h.clients {
				for _, client := range clients {
					close(client.Send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every outbound queue.
func (h *Hub) Stop() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.done
}

func (h *Hub) removeClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.UserID]) == 0 {
		delete(h.clients, client.UserID)
		h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
	}
}

// Connections reports how many sockets the user has open.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) SendNotification(userID uuid.UUID, notification dto.NotificationResponse) {
	h.sendFrame(userID, "notification", notification)
}

func (h *Hub) SendUnreadCount(userID uuid.UUID, count int64) {
	h.sendFrame(userID, "unread_count", dto.UnreadCountResponse{Count: count})
}

// SendRaw pushes bytes as-is, for exercising client-side frame validation.
func (h *Hub) SendRaw(userID uuid.UUID, data []byte) {
	h.deliver(userID, data)
}

func (h *Hub) sendFrame(userID uuid.UUID, frameType string, payload interface{}) {
	// 1. Serialize
	data, err := json.Marshal(map[string]interface{}{
		"type": frameType,
		"data": payload,
	})
	if err != nil {
		h.logger.Error("Hub", "Failed to encode frame", map[string]interface{}{"error": err})
		return
	}

	// 2. Deliver locally
	h.deliver(userID, data)
}

func (h *Hub) deliver(userID uuid.UUID, data []byte) {
	// Queues are only closed under the write lock.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients[userID] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client Send buffer full, dropping connection", map[string]interface{}{"user_id": userID})
			client.drop()
		}
	}
}

// DropAll severs every socket without a close frame, as a network failure would.
func (h *Hub) DropAll() int {
	h.mu.RLock()
	var clients []*wsClient
	for _, cs := range h.clients {
		clients = append(clients, cs...)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.drop()
	}
	return len(clients)
}
