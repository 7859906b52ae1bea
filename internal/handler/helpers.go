package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/quickbite/foodorder/internal/catalog"
	"github.com/quickbite/foodorder/internal/gateway"
	"github.com/quickbite/foodorder/internal/identity"
	"github.com/quickbite/foodorder/internal/order"
	"github.com/quickbite/foodorder/internal/ticket"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// respondWithError sends a JSON error body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON marshals payload and writes it with the given status code.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, e := range errs {
		details[e.Field()] = e.Tag()
	}
	return details
}

// respondValidation handles validator.Struct failures uniformly.
func respondValidation(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "validation failed",
			Details: formatValidationErrors(validationErrors),
		})
		return
	}
	log.Error().Err(err).Msg("handler: unexpected validation error type")
	respondWithError(w, http.StatusInternalServerError, "internal validation error")
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidAmount),
		errors.Is(err, order.ErrInvalidMethod),
		errors.Is(err, order.ErrStatusNotAllowed),
		errors.Is(err, order.ErrGatewayDisabled),
		errors.Is(err, gateway.ErrInvalidSignature),
		errors.Is(err, gateway.ErrBadTxnRef):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrForbidden),
		errors.Is(err, order.ErrAdminOnly):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrPaymentNotFound),
		errors.Is(err, ticket.ErrNotFound),
		errors.Is(err, catalog.ErrFoodNotFound),
		errors.Is(err, catalog.ErrCategoryNotFound),
		errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrPaymentCompleted),
		errors.Is(err, order.ErrOrderClosed),
		errors.Is(err, order.ErrCannotCancel),
		errors.Is(err, order.ErrBadTransition),
		errors.Is(err, order.ErrTicketUsed),
		errors.Is(err, order.ErrOrderNotConfirmed),
		errors.Is(err, order.ErrOrderNotPaid),
		errors.Is(err, order.ErrOrderCancelled),
		errors.Is(err, catalog.ErrCategoryExists),
		errors.Is(err, identity.ErrEmailExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError maps a service error to a status code, hiding internal
// detail behind a generic message for 5xx.
func respondServiceError(w http.ResponseWriter, err error) {
	code := mapErrorToStatusCode(err)
	if code == http.StatusInternalServerError {
		respondWithError(w, code, "internal server error")
		return
	}
	respondWithError(w, code, err.Error())
}
