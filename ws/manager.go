package ws

import (
	"context"
	"sync"

	"fixwork_backend/internal/logger"
)

// WebSocketManager tracks connected clients and routes server-side
// pushes to them. One client per user id; a reconnect replaces the old
// connection.
type WebSocketManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (manager *WebSocketManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			manager.closeAll()
			return

		case client := <-manager.register:
			manager.mu.Lock()
			if old, ok := manager.clients[client.ID]; ok {
				old.teardown()
			}
			manager.clients[client.ID] = client
			total := len(manager.clients)
			manager.mu.Unlock()
			logger.Info("ws client registered", "user_id", client.ID, "total", total)

		case client := <-manager.unregister:
			manager.mu.Lock()
			if current, ok := manager.clients[client.ID]; ok && current == client {
				delete(manager.clients, client.ID)
			}
			manager.mu.Unlock()
			client.teardown()
			logger.Info("ws client unregistered", "user_id", client.ID)
		}
	}
}

// SendToUser pushes a message to the user's connection if present. A
// full send buffer means the client cannot keep up; it is dropped so a
// slow consumer never blocks the fan-out path.
func (manager *WebSocketManager) SendToUser(userID string, message any) {
	manager.mu.RLock()
	client, ok := manager.clients[userID]
	manager.mu.RUnlock()
	if !ok {
		return
	}

	client.deliver(message)
}

func (manager *WebSocketManager) IsClientConnected(userID string) bool {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	_, exists := manager.clients[userID]
	return exists
}

func (manager *WebSocketManager) GetClientCount() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}

func (manager *WebSocketManager) closeAll() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for id, client := range manager.clients {
		client.teardown()
		delete(manager.clients, id)
	}
}
