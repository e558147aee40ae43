package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joakey/joakey/backend/internal/services"
)

// UserHandler contains HTTP handlers for profiles and the follow graph.
type UserHandler struct {
	follows *services.FollowService
}

// NewUserHandler creates a new UserHandler instance.
func NewUserHandler(follows *services.FollowService) *UserHandler {
	return &UserHandler{follows: follows}
}

// GetUser handles GET /api/users/{id}
// Returns the profile with follower counts as seen by the caller.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	resp, err := h.follows.Profile(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Follow handles PUT /api/users/{id}/follow
func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.setFollow(w, r, true)
}

// Unfollow handles DELETE /api/users/{id}/follow
func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.setFollow(w, r, false)
}

func (h *UserHandler) setFollow(w http.ResponseWriter, r *http.Request, follow bool) {
	viewerID := UserID(r.Context())
	targetID := chi.URLParam(r, "id")

	var err error
	if follow {
		err = h.follows.Follow(r.Context(), viewerID, targetID)
	} else {
		err = h.follows.Unfollow(r.Context(), viewerID, targetID)
	}
	if err != nil {
		WriteError(w, err)
		return
	}

	stats, err := h.follows.Stats(r.Context(), viewerID, targetID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
