package handler

import (
	"net/http"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/service"
)

const invalidCheckoutBody = "Invalid request body - need purchasedProducts and shopDomain"

// FetchOffers handles POST /api/offer
func (h *Handler) FetchOffers(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, apperr.Validation(invalidCheckoutBody))
		return
	}
	if req.ShopDomain == "" || req.PurchasedProducts == nil {
		h.respondError(w, r, apperr.Validation(invalidCheckoutBody))
		return
	}

	resp, err := h.service.FetchPostPurchaseOffers(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, resp.Status, resp)
}

type eventResponse struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Event   models.OfferEvent `json:"event"`
}

// RecordEvent handles POST /api/analytics/events
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req service.EventRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	event, err := h.service.RecordEvent(r.Context(), req)
	if err != nil {
		h.respondEventError(w, r, event, err)
		return
	}

	h.respondJSON(w, http.StatusOK, eventResponse{
		Status:  http.StatusOK,
		Message: "Event recorded successfully",
		Event:   event,
	})
}

// RecordDecline handles POST /api/analytics/decline
func (h *Handler) RecordDecline(w http.ResponseWriter, r *http.Request) {
	var req service.EventRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	event, err := h.service.RecordDecline(r.Context(), req)
	if err != nil {
		h.respondEventError(w, r, event, err)
		return
	}

	h.respondJSON(w, http.StatusOK, eventResponse{
		Status:  http.StatusOK,
		Message: "Decline event recorded successfully",
		Event:   event,
	})
}
