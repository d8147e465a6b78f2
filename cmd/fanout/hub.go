package main

import (
	"log"
	"sync"
)

// Hub maintains active WebSocket connections, grouped by run id, and
// broadcasts workflow events to every connection watching a run.
type Hub struct {
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

// Message is one workflow event to broadcast to every client watching RunID.
type Message struct {
	RunID string
	Data  []byte
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	log.Println("fanout hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRun(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.runID] = append(h.connections[client.runID], client)
	log.Printf("client registered: run_id=%s total_for_run=%d", client.runID, len(h.connections[client.runID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.runID]
	for i, c := range clients {
		if c == client {
			h.connections[client.runID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.runID]) == 0 {
				delete(h.connections, client.runID)
			}

			log.Printf("client unregistered: run_id=%s remaining=%d", client.runID, len(h.connections[client.runID]))
			break
		}
	}
}

func (h *Hub) broadcastToRun(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.RunID]
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		select {
		case client.send <- message.Data:
		default:
			log.Printf("client send buffer full, closing: run_id=%s", client.runID)
			close(client.send)
		}
	}
}

// GetConnectionCount returns the total number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}
