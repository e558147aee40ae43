package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/joakey/joakey/backend/internal/services"
)

// Frame types sent to clients.
const (
	FrameMessages = "messages"
	FrameError    = "error"
	FrameAck      = "ack"
)

// Hub maintains the set of active clients per conversation and fans each
// conversation's synchronized snapshots out to them.
type Hub struct {
	// conversations maps conversationID to the clients viewing it
	conversations map[string]map[*Client]bool

	// watchers cancels the snapshot feed of each conversation with clients
	watchers map[string]func()

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// broadcast sends a frame to all clients of a conversation
	broadcast chan *BroadcastMessage

	// mutex for thread-safe conversation operations
	mu sync.RWMutex
}

// BroadcastMessage contains a frame for every client of one conversation
type BroadcastMessage struct {
	ConversationID string
	Message        []byte
}

// OutgoingFrame is the envelope of everything sent to clients.
type OutgoingFrame struct {
	Type    string      `json:"type"`
	Ref     string      `json:"ref,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		conversations: make(map[string]map[*Client]bool),
		watchers:      make(map[string]func()),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *BroadcastMessage, 64),
	}
}

// Run starts the hub's main event loop
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToConversation(msg)
		}
	}
}

// registerClient adds a client to its conversation and sends it the current
// snapshot exactly once. The first client starts forwarding the session's
// updates.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	convID := client.ConversationID
	if h.conversations[convID] == nil {
		// The new watch starts with the current snapshot, which forward
		// broadcasts to this client.
		h.conversations[convID] = make(map[*Client]bool)
		updates, cancel := client.session.Watch()
		h.watchers[convID] = cancel
		go h.forward(convID, updates)
	} else if frame, err := snapshotFrame(client.session.Snapshot()); err == nil {
		client.enqueue(frame)
	}
	h.conversations[convID][client] = true
	log.Printf("[WebSocket] Client %s joined conversation %s (total: %d)",
		client.UserID, convID, len(h.conversations[convID]))
}

// unregisterClient removes a client from its conversation and releases its
// hold on the chat session.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	convID := client.ConversationID
	if clients, ok := h.conversations[convID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.closeSend()
			go client.release()

			log.Printf("[WebSocket] Client %s left conversation %s (remaining: %d)",
				client.UserID, convID, len(clients))

			if len(clients) == 0 {
				delete(h.conversations, convID)
				if cancel, ok := h.watchers[convID]; ok {
					cancel()
					delete(h.watchers, convID)
				}
				log.Printf("[WebSocket] Conversation %s has no viewers, removed from hub", convID)
			}
		}
	}
}

// broadcastToConversation sends a frame to all clients of a conversation.
// Clients whose buffers are full are dropped.
func (h *Hub) broadcastToConversation(msg *BroadcastMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conversations[msg.ConversationID]))
	for client := range h.conversations[msg.ConversationID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.enqueue(msg.Message) {
			log.Printf("[WebSocket] Dropping slow client %s", client.UserID)
			h.unregisterClient(client)
		}
	}
}

// forward turns session snapshots into broadcast frames until the watch is
// cancelled or the session closes.
func (h *Hub) forward(convID string, updates <-chan services.Snapshot) {
	for snap := range updates {
		frame, err := snapshotFrame(snap)
		if err != nil {
			log.Printf("[WebSocket] Failed to encode snapshot for %s: %v", convID, err)
			continue
		}
		h.broadcast <- &BroadcastMessage{ConversationID: convID, Message: frame}
	}
}

// GetConversationClientCount returns the number of connected clients viewing a conversation
func (h *Hub) GetConversationClientCount(convID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[convID])
}

// snapshotFrame encodes a snapshot, as an error frame when its fetch failed.
func snapshotFrame(snap services.Snapshot) ([]byte, error) {
	if snap.Err != nil {
		return json.Marshal(OutgoingFrame{Type: FrameError, Payload: snap, Error: "failed to refresh messages"})
	}
	return json.Marshal(OutgoingFrame{Type: FrameMessages, Payload: snap})
}
