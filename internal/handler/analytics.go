package handler

import (
	"net/http"
	"strconv"
	"strings"

	"postpurchase-api/internal/analytics"
	"postpurchase-api/internal/service"
	"postpurchase-api/internal/validation"
)

type dashboardResponse struct {
	Status    int                 `json:"status"`
	Message   string              `json:"message"`
	DateRange int                 `json:"dateRange"`
	Analytics analytics.Dashboard `json:"analytics"`
}

type seriesResponse struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	DateRange int    `json:"dateRange"`
	analytics.OfferSeries
}

type limitsResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	analytics.ImpressionLimits
}

type repairResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Updated int    `json:"updated"`
}

// dateRange parses the dateRange query parameter. Missing or invalid
// values fall back to the default window.
func dateRange(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("dateRange"))
	if err != nil || days <= 0 {
		return analytics.DefaultWindowDays
	}
	return days
}

// Dashboard handles GET /admin/analytics
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	days := dateRange(r)
	if id := validation.SanitizeString(r.URL.Query().Get("offerId")); id != "" {
		if err := validation.ValidateUUID(id, "offerId"); err != nil {
			h.respondError(w, r, err)
			return
		}
		h.offerSeries(w, r, strings.ToLower(id), days)
		return
	}

	dash, err := h.service.Dashboard(r.Context(), shop(r), days)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, dashboardResponse{
		Status:    http.StatusOK,
		Message:   "Dashboard analytics fetched successfully",
		DateRange: days,
		Analytics: dash,
	})
}

// OfferAnalytics handles GET /admin/analytics/offers/{id}
func (h *Handler) OfferAnalytics(w http.ResponseWriter, r *http.Request) {
	id, err := offerID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.offerSeries(w, r, id, dateRange(r))
}

func (h *Handler) offerSeries(w http.ResponseWriter, r *http.Request, id string, days int) {
	series, err := h.service.OfferSeries(r.Context(), shop(r), id, days)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, seriesResponse{
		Status:      http.StatusOK,
		Message:     "Offer analytics fetched successfully",
		DateRange:   days,
		OfferSeries: series,
	})
}

// ImpressionLimits handles GET /admin/analytics/impressions
func (h *Handler) ImpressionLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.service.ImpressionLimits(r.Context(), shop(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, limitsResponse{
		Status:           http.StatusOK,
		Message:          "Impression limits fetched successfully",
		ImpressionLimits: limits,
	})
}

// RecordAdminEvent handles POST /admin/analytics/events. The shop always
// comes from the session.
func (h *Handler) RecordAdminEvent(w http.ResponseWriter, r *http.Request) {
	var req service.EventRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	req.ShopDomain = shop(r)

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

// RepairConversionRates handles POST /admin/analytics/repair
func (h *Handler) RepairConversionRates(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RepairConversionRates(r.Context(), shop(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, repairResponse{
		Status:  http.StatusOK,
		Message: "Conversion rates repaired",
		Updated: n,
	})
}
