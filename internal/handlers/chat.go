package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/services"
	"github.com/joakey/joakey/backend/internal/store"
)

// ChatHandler contains HTTP handlers for conversation operations.
type ChatHandler struct {
	chats    *services.ConversationService
	profiles store.ProfileStore
}

// NewChatHandler creates a new ChatHandler instance.
func NewChatHandler(chats *services.ConversationService, profiles store.ProfileStore) *ChatHandler {
	return &ChatHandler{chats: chats, profiles: profiles}
}

// ResolveChat handles POST /api/chats
// Returns the conversation between the caller and peer_id, creating it on
// first contact.
func (h *ChatHandler) ResolveChat(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.PeerID == "" {
		badRequest(w, "peer_id is required")
		return
	}

	viewerID := UserID(r.Context())
	if _, err := h.profiles.GetProfile(r.Context(), req.PeerID); err != nil {
		WriteError(w, err)
		return
	}

	conv, err := h.chats.Resolve(r.Context(), viewerID, req.PeerID)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := models.ResolveChatResponse{Conversation: *conv}
	peer, err := h.profiles.GetProfile(r.Context(), conv.Peer(viewerID))
	if err != nil {
		log.Printf("[Chat] Could not load peer profile for %s: %v", conv.ID, err)
	} else {
		resp.Peer = peer
	}
	writeJSON(w, http.StatusOK, resp)
}
