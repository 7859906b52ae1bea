package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quickbite/foodorder/internal/identity"
	"github.com/quickbite/foodorder/internal/order"
)

type RedeemTicketRequest struct {
	TicketCode string `json:"ticket_code" validate:"required"`
}

// TicketHandler exposes the staff redemption scan.
type TicketHandler struct {
	svc      order.Service
	validate *validator.Validate
}

func NewTicketHandler(svc order.Service) *TicketHandler {
	return &TicketHandler{svc: svc, validate: validator.New()}
}

func (h *TicketHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/tickets/redeem", h.handleRedeem)
}

func (h *TicketHandler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req RedeemTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	redemption, err := h.svc.RedeemTicket(r.Context(), actor, req.TicketCode)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "ticket redeemed",
		"order_id": redemption.OrderID,
	})
}
