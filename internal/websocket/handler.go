package websocket

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/joakey/joakey/backend/internal/handlers"
	"github.com/joakey/joakey/backend/internal/services"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	chats    *services.ConversationService
	sessions *services.SessionManager
	messages *services.MessageService
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, chats *services.ConversationService, sessions *services.SessionManager, messages *services.MessageService) *Handler {
	return &Handler{hub: hub, chats: chats, sessions: sessions, messages: messages}
}

// ServeHTTP handles WebSocket upgrade requests at /ws/chats/{id}
// The caller must already be authenticated and a participant of the
// conversation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	userID := handlers.UserID(r.Context())

	conv, err := h.chats.Authorize(r.Context(), convID, userID)
	if err != nil {
		handlers.WriteError(w, err)
		return
	}

	session, release, err := h.sessions.Acquire(r.Context(), conv.ID)
	if err != nil {
		handlers.WriteError(w, err)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade failed: %v", err)
		release()
		return
	}

	log.Printf("[WebSocket] New connection: conversation=%s, user=%s", conv.ID, userID)

	// Create client and register with hub
	client := NewClient(h.hub, conn, session, release, h.messages, userID)
	h.hub.register <- client

	// Start read/write pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}
