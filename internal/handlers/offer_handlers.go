package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gradelab/buyback-service/internal/models"
	"github.com/gradelab/buyback-service/internal/services"
	"github.com/gradelab/buyback-service/internal/utils"
)

// OfferHandler - structure for handling HTTP requests.
type OfferHandler struct {
	Service *services.OfferService
	Logger  *log.Logger
	Timeout time.Duration
}

// NewOfferHandler creates a new OfferHandler instance.
func NewOfferHandler(service *services.OfferService, logger *log.Logger, timeout time.Duration) *OfferHandler {
	return &OfferHandler{
		Service: service,
		Logger:  logger,
		Timeout: timeout,
	}
}

// companyID resolves the tenant set by the upstream auth middleware.
func (h *OfferHandler) companyID(w http.ResponseWriter, r *http.Request) (string, bool) {
	companyId := r.Header.Get("X-Company-Id")
	if companyId == "" {
		utils.SendErrorResponse(w, http.StatusUnauthorized, "missing X-Company-Id header")
		return "", false
	}
	return companyId, true
}

func (h *OfferHandler) writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Println(err)
	}
}

func (h *OfferHandler) writeError(w http.ResponseWriter, err error, fallback string) {
	if errorResponse, ok := err.(*models.ErrorResponse); ok {
		h.Logger.Println(err)
		utils.SendErrorResponse(w, errorResponse.StatusCode, errorResponse.Message)
		return
	}
	h.Logger.Println(err)
	utils.SendErrorResponse(w, http.StatusInternalServerError, fallback)
}

// CreateOffer handles requests to create a buyback offer.
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var req models.OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	offer, err := h.Service.CreateOffer(ctx, companyId, req)
	if err != nil {
		h.writeError(w, err, "failed to create offer")
		return
	}
	h.writeJSON(w, http.StatusCreated, offer)
}

// GetOffers handles requests for the company's offer list.
func (h *OfferHandler) GetOffers(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	statusFilter := r.URL.Query().Get("status")
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	offers, err := h.Service.ListOffers(ctx, companyId, statusFilter, limitStr, offsetStr)
	if err != nil {
		h.writeError(w, err, "failed to fetch offers")
		return
	}
	if offers == nil {
		offers = []models.BuybackOffer{}
	}
	h.writeJSON(w, http.StatusOK, offers)
}

// GetCustomerOffers handles requests for one customer's offers.
func (h *OfferHandler) GetCustomerOffers(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	customerId := r.PathValue("customerId")
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	offers, err := h.Service.ListCustomerOffers(ctx, companyId, customerId, limitStr, offsetStr)
	if err != nil {
		h.writeError(w, err, "failed to fetch offers")
		return
	}
	if offers == nil {
		offers = []models.BuybackOffer{}
	}
	h.writeJSON(w, http.StatusOK, offers)
}

// GetOffer handles requests for a single offer.
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.GetOffer(ctx, companyId, r.PathValue("offerId"))
	if err != nil {
		h.writeError(w, err, "failed to fetch offer")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// AcceptOffer handles the customer accepting a pending offer.
func (h *OfferHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.AcceptOffer(ctx, companyId, r.PathValue("offerId"))
	if err != nil {
		h.writeError(w, err, "failed to accept offer")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// DeclineOffer handles the customer declining a pending offer.
func (h *OfferHandler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.DeclineOffer(ctx, companyId, r.PathValue("offerId"))
	if err != nil {
		h.writeError(w, err, "failed to decline offer")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// CounterOffer handles the customer's counter-offer submission.
func (h *OfferHandler) CounterOffer(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var req models.CounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	offer, err := h.Service.CounterOffer(ctx, companyId, r.PathValue("offerId"), req)
	if err != nil {
		h.writeError(w, err, "failed to submit counter-offer")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// RespondToCounter handles the admin's decision on a counter-offer.
func (h *OfferHandler) RespondToCounter(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var req models.CounterDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	offer, err := h.Service.RespondToCounter(ctx, companyId, r.PathValue("offerId"), req)
	if err != nil {
		h.writeError(w, err, "failed to respond to counter-offer")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// CancelOffer handles the admin cancelling a non-terminal offer.
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.CancelOffer(ctx, companyId, r.PathValue("offerId"))
	if err != nil {
		h.writeError(w, err, "failed to cancel offer")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// InitiatePayment handles creating a payment intent for an accepted offer.
func (h *OfferHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.InitiatePayment(ctx, companyId, r.PathValue("offerId"))
	if err != nil {
		h.writeError(w, err, "failed to initiate payment")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// ConfirmPayment handles confirming a succeeded payment intent.
func (h *OfferHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.ConfirmPayment(ctx, companyId, r.PathValue("offerId"))
	if err != nil {
		h.writeError(w, err, "failed to confirm payment")
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// DeleteOffer handles deleting an offer and its card rows.
func (h *OfferHandler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	companyId, ok := h.companyID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	if err := h.Service.DeleteOffer(ctx, companyId, r.PathValue("offerId")); err != nil {
		h.writeError(w, err, "failed to delete offer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
