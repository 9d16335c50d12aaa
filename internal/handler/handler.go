package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/middleware"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/service"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	log         *slog.Logger
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *slog.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		service:     svc,
		log:         opts.Logger,
		maxBodySize: opts.MaxBodySize,
	}
}

// Routes mounts the checkout API under /api and the admin API under
// /admin. session guards every admin route.
func (h *Handler) Routes(r chi.Router, session func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/offer", h.FetchOffers)
		r.Post("/analytics/events", h.RecordEvent)
		r.Post("/analytics/decline", h.RecordDecline)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(session)

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", h.ListOffers)
			r.Post("/", h.CreateOffer)
			r.Get("/{id}", h.GetOffer)
			r.Put("/{id}", h.UpdateOffer)
			r.Delete("/{id}", h.DeleteOffer)
			r.Patch("/{id}/status", h.UpdateOfferStatus)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/", h.Dashboard)
			r.Get("/offers/{id}", h.OfferAnalytics)
			r.Get("/impressions", h.ImpressionLimits)
			r.Post("/events", h.RecordAdminEvent)
			r.Post("/repair", h.RepairConversionRates)
		})

		r.Get("/plans", h.ListPlans)
		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", h.GetSubscription)
			r.Post("/", h.Subscribe)
			r.Get("/confirm", h.ConfirmSubscription)
			r.Post("/cancel", h.CancelSubscription)
		})
	})

	r.Get("/health", h.Health)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.log.WarnContext(r.Context(), "health check failed", slog.String("error", err.Error()))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decode reads a size-limited JSON body into dst.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		case errors.As(err, &tooLarge):
			return apperr.Validation("request body too large")
		default:
			return apperr.Validation("invalid JSON in request body")
		}
	}
	return nil
}

// shop returns the shop resolved by the session middleware.
func shop(r *http.Request) string {
	s, _ := middleware.ShopFromContext(r.Context())
	return s
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps err to its status and sends the error body. Internal
// detail goes into the error field only.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	message, detail := apperr.Message(err)

	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}

	h.respondJSON(w, status, models.ErrorResponse{
		Status:  status,
		Message: message,
		Error:   detail,
	})
}

type messageResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// partialResponse reports an event that was stored while its aggregate
// update failed.
type partialResponse struct {
	models.ErrorResponse
	Partial bool              `json:"partial"`
	Event   models.OfferEvent `json:"event"`
}

func (h *Handler) respondEventError(w http.ResponseWriter, r *http.Request, event models.OfferEvent, err error) {
	if !apperr.IsPartial(err) {
		h.respondError(w, r, err)
		return
	}

	status := apperr.HTTPStatus(err)
	message, detail := apperr.Message(err)
	h.log.ErrorContext(r.Context(), "event stored without aggregate update",
		slog.String("event_id", event.ID),
		slog.String("error", err.Error()))

	h.respondJSON(w, status, partialResponse{
		ErrorResponse: models.ErrorResponse{Status: status, Message: message, Error: detail},
		Partial:       true,
		Event:         event,
	})
}
