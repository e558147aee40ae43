package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/services"
)

// OrderHandler contains HTTP handlers for the order flow.
type OrderHandler struct {
	orders *services.OrderService
}

// NewOrderHandler creates a new OrderHandler instance.
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Summary handles POST /api/orders/summary
// Prices the order and returns where to pay.
func (h *OrderHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var req models.OrderSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	summary, err := h.orders.Summarize(r.Context(), UserID(r.Context()), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
