package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"postpurchase-api/internal/models"
	"postpurchase-api/internal/service"
	"postpurchase-api/internal/validation"
)

type offersResponse struct {
	Status    int            `json:"status"`
	Message   string         `json:"message"`
	Offers    []models.Offer `json:"offers"`
	HasOffers bool           `json:"hasOffers"`
}

type offerResponse struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	Offer   models.Offer `json:"offer"`
}

type saveResponse struct {
	Status int `json:"status"`
	service.SaveResult
}

// ListOffers handles GET /admin/offers
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.service.ListOffers(r.Context(), shop(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, offersResponse{
		Status:    http.StatusOK,
		Message:   "Offers fetched successfully",
		Offers:    offers,
		HasOffers: len(offers) > 0,
	})
}

// GetOffer handles GET /admin/offers/{id}
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := offerID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	offer, err := h.service.GetOffer(r.Context(), shop(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, offerResponse{
		Status:  http.StatusOK,
		Message: "Offer fetched successfully",
		Offer:   offer,
	})
}

// CreateOffer handles POST /admin/offers
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req models.Offer
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	req.ID = ""

	h.saveOffer(w, r, req, http.StatusCreated)
}

// UpdateOffer handles PUT /admin/offers/{id}
func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	var req models.Offer
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	id, err := offerID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	req.ID = id

	h.saveOffer(w, r, req, http.StatusOK)
}

func (h *Handler) saveOffer(w http.ResponseWriter, r *http.Request, offer models.Offer, status int) {
	res, err := h.service.SaveOffer(r.Context(), shop(r), offer)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, status, saveResponse{Status: status, SaveResult: res})
}

// DeleteOffer handles DELETE /admin/offers/{id}
func (h *Handler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	id, err := offerID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.service.DeleteOffer(r.Context(), shop(r), id); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, messageResponse{
		Status:  http.StatusOK,
		Message: "Offer deleted successfully",
	})
}

type statusRequest struct {
	Status models.OfferStatus `json:"status"`
}

// UpdateOfferStatus handles PATCH /admin/offers/{id}/status
func (h *Handler) UpdateOfferStatus(w http.ResponseWriter, r *http.Request) {
	id, err := offerID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req statusRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	status := models.OfferStatus(validation.SanitizeString(string(req.Status)))

	offer, err := h.service.UpdateOfferStatus(r.Context(), shop(r), id, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, offerResponse{
		Status:  http.StatusOK,
		Message: "Offer status updated successfully",
		Offer:   offer,
	})
}

// offerID reads the {id} path parameter. Offer ids are UUIDs.
func offerID(r *http.Request) (string, error) {
	id := validation.SanitizeString(chi.URLParam(r, "id"))
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return "", err
	}
	return strings.ToLower(id), nil
}
