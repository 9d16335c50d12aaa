package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"postpurchase-api/internal/analytics"
	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/tracing"
	"postpurchase-api/internal/usage"
	"postpurchase-api/internal/validation"
)

// CheckoutRequest is sent by the checkout extension after an order.
type CheckoutRequest struct {
	ShopDomain        string                 `json:"shopDomain"`
	PurchasedProducts []models.PurchasedItem `json:"purchasedProducts"`
}

// CheckoutResponse carries the offers to render. Status is the HTTP status
// to answer with; limit fields are only set when a limit applies.
type CheckoutResponse struct {
	Status               int            `json:"status"`
	Message              string         `json:"message"`
	Offers               []models.Offer `json:"offers"`
	RemainingImpressions *int64         `json:"remainingImpressions,omitempty"`
	TotalImpressions     *int64         `json:"totalImpressions,omitempty"`
	MaxImpressions       *int64         `json:"maxImpressions,omitempty"`
	LimitReached         bool           `json:"limitReached,omitempty"`
	ActiveOffers         *int64         `json:"activeOffers,omitempty"`
	MaxActiveOffers      *int64         `json:"maxActiveOffers,omitempty"`
}

// FetchPostPurchaseOffers resolves the offers triggered by a completed
// order. Plan limits are checked before resolution; a denied request
// records no impressions. One impression is recorded per returned offer
// and recording failures never fail the request.
func (s *Service) FetchPostPurchaseOffers(ctx context.Context, req CheckoutRequest) (resp CheckoutResponse, err error) {
	shop := validation.NormalizeShopDomain(req.ShopDomain)
	ctx, span := s.tracer.StartSpan(ctx, "service.FetchPostPurchaseOffers",
		attribute.String("shop", shop),
		attribute.Int("items", len(req.PurchasedProducts)))
	defer func() { tracing.End(span, err) }()

	if err := validation.ValidateShopDomain(shop); err != nil {
		return CheckoutResponse{}, err
	}
	if err := validation.ValidatePurchasedItems(req.PurchasedProducts); err != nil {
		return CheckoutResponse{}, err
	}

	now := s.now().UTC()
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	canonical, err := s.subs.GetCanonical(sctx, shop)
	if err != nil {
		return CheckoutResponse{}, err
	}
	if canonical.Suspended() {
		return CheckoutResponse{
			Status:  http.StatusForbidden,
			Message: "Subscription is not active",
			Offers:  []models.Offer{},
		}, nil
	}
	sub := canonical.Subscription

	u, err := s.usage(sctx, shop, now)
	if err != nil {
		return CheckoutResponse{}, err
	}

	// Strictly over: a shop sitting exactly at its offer limit still serves.
	if u.ActiveOffers > sub.MaxActiveOffers {
		denied := s.quotaDenied(ctx, shop, usage.ActionCreateOffer,
			fmt.Sprintf("You have %d active offers but your %s plan allows %d",
				u.ActiveOffers, sub.PlanName, sub.MaxActiveOffers))
		return CheckoutResponse{
			Status:          apperr.HTTPStatus(denied),
			Message:         denied.Message,
			Offers:          []models.Offer{},
			ActiveOffers:    ptr(u.ActiveOffers),
			MaxActiveOffers: ptr(sub.MaxActiveOffers),
			LimitReached:    true,
		}, nil
	}

	if d := usage.CheckAction(usage.ActionShowOffer, sub, u); !d.Allowed {
		denied := s.quotaDenied(ctx, shop, usage.ActionShowOffer, d.Message)
		return CheckoutResponse{
			Status:               apperr.HTTPStatus(denied),
			Message:              denied.Message,
			Offers:               []models.Offer{},
			TotalImpressions:     ptr(u.MonthImpressions),
			MaxImpressions:       ptr(sub.MaxImpressionsMonthly),
			RemainingImpressions: ptr(int64(0)),
			LimitReached:         true,
		}, nil
	}

	offers, err := s.resolver.ResolveEligibleOffers(sctx, shop, req.PurchasedProducts, now)
	if err != nil {
		return CheckoutResponse{}, storeErr("Failed to resolve offers", err)
	}
	s.metrics.OffersResolved(len(offers))

	recorded := s.recordImpressions(sctx, shop, offers)

	remaining := sub.MaxImpressionsMonthly - u.MonthImpressions - int64(recorded)
	if remaining < 0 {
		remaining = 0
	}

	return CheckoutResponse{
		Status:               http.StatusOK,
		Message:              "Offers fetched successfully",
		Offers:               offers,
		RemainingImpressions: ptr(remaining),
	}, nil
}

func (s *Service) recordImpressions(ctx context.Context, shop string, offers []models.Offer) int {
	recorded := 0
	for _, offer := range offers {
		_, err := s.recorder.RecordEvent(ctx, shop, offer.ID, models.EventImpression, analytics.EventContext{})
		if err != nil {
			s.log.WarnContext(ctx, "failed to record impression",
				slog.String("shop", shop),
				slog.String("offer_id", offer.ID),
				slog.String("error", err.Error()))
			continue
		}
		recorded++
	}
	return recorded
}

// quotaDenied counts and logs a checkout refused by a plan limit.
func (s *Service) quotaDenied(ctx context.Context, shop string, action usage.Action, msg string) *apperr.Error {
	s.metrics.QuotaDenied(string(action))
	s.log.InfoContext(ctx, "checkout denied by plan limit",
		slog.String("shop", shop),
		slog.String("action", string(action)))
	return apperr.QuotaExceeded(msg)
}

func ptr[T any](v T) *T {
	return &v
}
