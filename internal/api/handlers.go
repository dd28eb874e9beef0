/**
 * @description
 * This file contains the HTTP handler functions for the payment-service.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate business logic in the service layer, and mapping domain errors
 * to HTTP responses.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jobforge/payment-service/internal/app"
	"github.com/jobforge/payment-service/internal/domain"
	"github.com/jobforge/payment-service/internal/store"
	"github.com/jobforge/payment-service/pkg/middleware"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

type createPaymentIntentRequest struct {
	Payload json.RawMessage `json:"payload"`
	Purpose string          `json:"purpose,omitempty"`
}

// handleCreatePaymentIntent stages a job draft and opens a charge for it.
func (h *Handler) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createPaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ownerRef := middleware.GetOwnerRefFromContext(r.Context())
	result, err := h.service.CreateJobPaymentIntent(r.Context(), req.Payload, ownerRef, req.Purpose)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type confirmPaymentRequest struct {
	GatewayReferenceID string `json:"gateway_reference_id"`
}

// handleConfirmPayment is the synchronous client confirmation path.
func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GatewayReferenceID == "" {
		writeError(w, http.StatusBadRequest, "gateway_reference_id is required")
		return
	}

	result, err := h.service.ConfirmPayment(r.Context(), req.GatewayReferenceID)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationPending) {
			// Payment may well have succeeded; the webhook will complete
			// publication. Tell the user to check back, never "failed".
			writeJSON(w, http.StatusAccepted, map[string]any{
				"success": false,
				"pending": true,
				"message": "payment received but publication is still pending; check back shortly",
			})
			return
		}
		if errors.Is(err, domain.ErrPaymentNotCompleted) || errors.Is(err, domain.ErrMissingCorrelation) {
			respondServiceError(w, err)
			return
		}
		// The charge verified as succeeded but publication failed. The paid
		// action must never be reported as lost: the webhook path will retry,
		// and the user keeps their payment reference for support.
		log.Printf("level=error component=api msg=\"confirmed payment could not be committed\" gateway_ref=%s err=%v", req.GatewayReferenceID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "your payment succeeded but publication failed; contact support with reference " + req.GatewayReferenceID,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createSubscriptionRequest struct {
	Email string `json:"email"`
}

// handleCreateRealtimeSubscription opens a recurring alert subscription.
func (h *Handler) handleCreateRealtimeSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.service.CreateRealtimeSubscription(r.Context(), req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// respondServiceError maps domain and store errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var configErr *domain.ConfigurationError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		writeError(w, http.StatusPaymentRequired, "payment has not completed; please retry payment")
	case errors.Is(err, domain.ErrMissingCorrelation):
		writeError(w, http.StatusUnprocessableEntity, "charge is not linked to any staged submission; contact support with your payment reference")
	case errors.Is(err, store.ErrGatewayRefConflict):
		writeError(w, http.StatusConflict, "submission is already linked to a different payment")
	case errors.Is(err, store.ErrStagedSubmissionNotFound),
		errors.Is(err, store.ErrAlertSubscriptionNotFound),
		errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &configErr), errors.Is(err, domain.ErrGatewayMisconfigured):
		log.Printf("level=error component=api msg=\"fatal configuration error\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "service misconfiguration; contact support")
	default:
		log.Printf("level=error component=api msg=\"request failed\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
