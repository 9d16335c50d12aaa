package service

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"postpurchase-api/internal/analytics"
	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/tracing"
	"postpurchase-api/internal/usage"
	"postpurchase-api/internal/validation"
)

// EventRequest is a funnel event as posted by the checkout extension or
// the admin app.
type EventRequest struct {
	ShopDomain     string           `json:"shopDomain"`
	OfferID        string           `json:"offerId"`
	EventType      models.EventType `json:"eventType"`
	CustomerID     string           `json:"customerId"`
	OrderID        string           `json:"orderId"`
	ProductID      string           `json:"productId"`
	VariantID      string           `json:"variantId"`
	RevenueAmount  decimal.Decimal  `json:"revenueAmount"`
	DiscountAmount decimal.Decimal  `json:"discountAmount"`
	SessionID      string           `json:"sessionId"`
	UserAgent      string           `json:"userAgent"`
	IPAddress      string           `json:"ipAddress"`
	Referrer       string           `json:"referrer"`
	EventData      json.RawMessage  `json:"eventData"`
}

// RecordEvent validates and records one funnel event. A partial failure
// returns the stored event together with the error.
func (s *Service) RecordEvent(ctx context.Context, req EventRequest) (event models.OfferEvent, err error) {
	shop := validation.NormalizeShopDomain(req.ShopDomain)
	ctx, span := s.tracer.StartSpan(ctx, "service.RecordEvent",
		attribute.String("shop", shop),
		attribute.String("event_type", string(req.EventType)))
	defer func() { tracing.End(span, err) }()

	candidate := models.OfferEvent{
		Shop:           shop,
		OfferID:        validation.SanitizeString(req.OfferID),
		EventType:      models.EventType(validation.SanitizeString(string(req.EventType))),
		RevenueAmount:  req.RevenueAmount,
		DiscountAmount: req.DiscountAmount,
	}
	if err := validation.ValidateEvent(candidate); err != nil {
		return models.OfferEvent{}, err
	}

	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	return s.recorder.RecordEvent(sctx, shop, candidate.OfferID, candidate.EventType, analytics.EventContext{
		CustomerID:     req.CustomerID,
		OrderID:        req.OrderID,
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		RevenueAmount:  req.RevenueAmount,
		DiscountAmount: req.DiscountAmount,
		SessionID:      req.SessionID,
		UserAgent:      req.UserAgent,
		IPAddress:      req.IPAddress,
		Referrer:       req.Referrer,
		Data:           req.EventData,
	})
}

// RecordDecline records a decline for an offer.
func (s *Service) RecordDecline(ctx context.Context, req EventRequest) (models.OfferEvent, error) {
	if validation.SanitizeString(req.ShopDomain) == "" || validation.SanitizeString(req.OfferID) == "" {
		return models.OfferEvent{}, apperr.Validation("Missing required fields: shopDomain and offerId")
	}
	req.EventType = models.EventDecline
	return s.RecordEvent(ctx, req)
}

// Dashboard summarizes the shop's funnel over the last days days.
func (s *Service) Dashboard(ctx context.Context, shop string, days int) (analytics.Dashboard, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	return s.recorder.Dashboard(sctx, shop, days)
}

// OfferSeries returns one offer's daily history. It requires a plan with
// advanced analytics.
func (s *Service) OfferSeries(ctx context.Context, shop, offerID string, days int) (analytics.OfferSeries, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	canonical, err := s.subs.GetCanonical(sctx, shop)
	if err != nil {
		return analytics.OfferSeries{}, err
	}
	if d := usage.CheckAction(usage.ActionAccessAnalytics, canonical.Subscription, usage.Usage{}); !d.Allowed {
		s.metrics.QuotaDenied(string(usage.ActionAccessAnalytics))
		return analytics.OfferSeries{}, apperr.Forbidden(d.Message)
	}

	if _, err := s.db.GetOffer(sctx, shop, offerID); err != nil {
		return analytics.OfferSeries{}, offerErr(err)
	}
	return s.recorder.OfferSeries(sctx, shop, offerID, days)
}

// ImpressionLimits reports this month's impressions against the plan.
func (s *Service) ImpressionLimits(ctx context.Context, shop string) (analytics.ImpressionLimits, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	canonical, err := s.subs.GetCanonical(sctx, shop)
	if err != nil {
		return analytics.ImpressionLimits{}, err
	}
	return s.recorder.CheckImpressionLimits(sctx, shop, canonical.MaxImpressionsMonthly)
}

// RepairConversionRates recomputes the stored rates of shop.
func (s *Service) RepairConversionRates(ctx context.Context, shop string) (int, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	return s.recorder.RepairConversionRates(sctx, shop)
}
