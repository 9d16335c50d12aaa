package handler

import (
	"net/http"

	"postpurchase-api/internal/models"
	"postpurchase-api/internal/plans"
	"postpurchase-api/internal/subscription"
	"postpurchase-api/internal/validation"
)

type plansResponse struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	Plans   []plans.Plan `json:"plans"`
}

type subscriptionResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	subscription.View
}

type changeResponse struct {
	Status          int                  `json:"status"`
	Message         string               `json:"message"`
	PlanID          string               `json:"planId"`
	Outcome         string               `json:"outcome"`
	ConfirmationURL string               `json:"confirmationUrl,omitempty"`
	Subscription    *models.Subscription `json:"subscription,omitempty"`
}

type confirmResponse struct {
	Status       int                    `json:"status"`
	Message      string                 `json:"message"`
	Subscription subscription.Canonical `json:"subscription"`
}

type subscribeRequest struct {
	PlanID    string `json:"planId"`
	ReturnURL string `json:"returnUrl"`
}

// ListPlans handles GET /admin/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, plansResponse{
		Status:  http.StatusOK,
		Message: "Plans fetched successfully",
		Plans:   h.service.Plans(),
	})
}

// GetSubscription handles GET /admin/subscription
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetSubscription(r.Context(), shop(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, subscriptionResponse{
		Status:  http.StatusOK,
		Message: "Subscription fetched successfully",
		View:    view,
	})
}

// Subscribe handles POST /admin/subscription
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.service.Subscribe(r.Context(), shop(r),
		validation.SanitizeString(req.PlanID), validation.SanitizeString(req.ReturnURL))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, changeResponse{
		Status:          http.StatusOK,
		Message:         res.Message,
		PlanID:          res.PlanID,
		Outcome:         res.Status,
		ConfirmationURL: res.ConfirmationURL,
		Subscription:    res.Subscription,
	})
}

// ConfirmSubscription handles GET /admin/subscription/confirm, the return
// URL of the billing confirmation page.
func (h *Handler) ConfirmSubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	planID := validation.SanitizeString(q.Get("plan"))
	chargeID := validation.SanitizeString(q.Get("charge_id"))

	canonical, err := h.service.ConfirmSubscription(r.Context(), shop(r), planID, chargeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, confirmResponse{
		Status:       http.StatusOK,
		Message:      "Subscription created/updated successfully",
		Subscription: canonical,
	})
}

// CancelSubscription handles POST /admin/subscription/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.CancelSubscription(r.Context(), shop(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, messageResponse{Status: http.StatusOK, Message: msg})
}
