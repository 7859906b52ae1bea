package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quickbite/foodorder/internal/config"
	"github.com/quickbite/foodorder/internal/identity"
	"github.com/quickbite/foodorder/internal/order"
)

type CreatePaymentRequest struct {
	OrderID  int64  `json:"order_id" validate:"required,gt=0"`
	Method   string `json:"method" validate:"required,oneof=cash online"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	BankCode string `json:"bank_code"`
}

type PaymentResponse struct {
	PaymentID     int64  `json:"payment_id"`
	OrderID       int64  `json:"order_id"`
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`
}

// PaymentHandler handles payment creation, the gateway callback and the
// admin cash confirmation.
type PaymentHandler struct {
	svc      order.Service
	gwCfg    config.GatewayConfig
	validate *validator.Validate
}

func NewPaymentHandler(svc order.Service, gwCfg config.GatewayConfig) *PaymentHandler {
	return &PaymentHandler{svc: svc, gwCfg: gwCfg, validate: validator.New()}
}

func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payments", h.handleCreatePayment)
}

func (h *PaymentHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/payments/{id}/confirm", h.handleConfirmCash)
}

// RegisterCallbackRoutes mounts the unauthenticated, signature-verified
// gateway return endpoint.
func (h *PaymentHandler) RegisterCallbackRoutes(r chi.Router) {
	r.Get("/payments/callback", h.handleCallback)
}

func (h *PaymentHandler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	result, err := h.svc.RecordPayment(r.Context(), actor, order.PaymentRequest{
		OrderID:  req.OrderID,
		Method:   order.PaymentMethod(req.Method),
		Amount:   req.Amount,
		BankCode: req.BankCode,
		ClientIP: r.RemoteAddr,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	p := result.Payment
	respondWithJSON(w, http.StatusCreated, PaymentResponse{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Method:        string(p.Method),
		Status:        string(p.Status),
		TransactionID: p.TxnRef,
		PaymentURL:    result.PaymentURL,
	})
}

func (h *PaymentHandler) handleConfirmCash(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	p, err := h.svc.ConfirmCashPayment(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, PaymentResponse{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Method:    string(p.Method),
		Status:    string(p.Status),
	})
}

func (h *PaymentHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ReconcileCallback(r.Context(), r.URL.Query())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// The gateway sends the user agent here; forward it to the storefront
	// when one is configured.
	if result.Success && h.gwCfg.SuccessURL != "" {
		http.Redirect(w, r, h.gwCfg.SuccessURL, http.StatusFound)
		return
	}
	if !result.Success && h.gwCfg.FailureURL != "" {
		http.Redirect(w, r, h.gwCfg.FailureURL, http.StatusFound)
		return
	}

	status := "failed"
	if result.Success {
		status = "completed"
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": result.OrderID,
		"status":   status,
	})
}
