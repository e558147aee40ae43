package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/services"
)

// maxUploadSize bounds attachment uploads.
const maxUploadSize = 25 << 20

// MessageHandler contains HTTP handlers for message operations.
// Writes go through here or the websocket; reads are usually served by the
// websocket's synchronized snapshots, with GetMessages as a polling fallback.
type MessageHandler struct {
	messageService *services.MessageService
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(messageService *services.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// SendMessage handles POST /api/chats/{id}/messages
// Encrypts and stores a message from the caller.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	msg, err := h.messageService.Send(r.Context(), chatID, UserID(r.Context()), req.Text, req.Type)
	if err != nil {
		WriteError(w, err)
		return
	}
	log.Printf("[Message] Stored message %s in chat %s from %s", msg.ID, chatID, msg.SenderID)
	writeJSON(w, http.StatusCreated, msg)
}

// GetMessages handles GET /api/chats/{id}/messages
// Returns the conversation's messages decoded, oldest first.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")

	messages, err := h.messageService.List(r.Context(), chatID, UserID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.GetMessagesResponse{Messages: messages})
}

// EditMessage handles PATCH /api/chats/{id}/messages/{messageID}
// Replaces the text of one of the caller's messages.
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	var req models.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	msg, err := h.messageService.Edit(r.Context(), chatID, messageID, UserID(r.Context()), req.Text)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/chats/{id}/messages/{messageID}
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	if err := h.messageService.Delete(r.Context(), chatID, messageID, UserID(r.Context())); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadAttachment handles POST /api/chats/{id}/attachments
// Accepts a multipart "file" field holding an image or video and sends it
// as a message.
func (h *MessageHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	msg, err := h.messageService.AttachMedia(r.Context(), chatID, UserID(r.Context()), header.Filename, contentType, file)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
