package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"postpurchase-api/internal/plans"
	"postpurchase-api/internal/subscription"
	"postpurchase-api/internal/tracing"
)

// Plans lists the plan catalog in display order.
func (s *Service) Plans() []plans.Plan {
	return plans.All()
}

// GetSubscription returns the canonical subscription of shop with its
// live usage.
func (s *Service) GetSubscription(ctx context.Context, shop string) (subscription.View, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	u, err := s.usage(sctx, shop, s.now().UTC())
	if err != nil {
		return subscription.View{}, err
	}
	return s.subs.WithUsage(sctx, shop, u)
}

// Subscribe starts a plan change. Billing calls carry their own timeout.
func (s *Service) Subscribe(ctx context.Context, shop, planID, returnURL string) (res subscription.ChangeResult, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.Subscribe",
		attribute.String("shop", shop),
		attribute.String("plan_id", planID))
	defer func() { tracing.End(span, err) }()

	return s.subs.ChangePlan(ctx, shop, planID, returnURL)
}

// ConfirmSubscription records a paid plan once the merchant approved it.
func (s *Service) ConfirmSubscription(ctx context.Context, shop, planID, chargeID string) (res subscription.Canonical, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.ConfirmSubscription",
		attribute.String("shop", shop),
		attribute.String("plan_id", planID))
	defer func() { tracing.End(span, err) }()

	return s.subs.Confirm(ctx, shop, planID, chargeID)
}

// CancelSubscription cancels the paid plan of shop.
func (s *Service) CancelSubscription(ctx context.Context, shop string) (msg string, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.CancelSubscription", attribute.String("shop", shop))
	defer func() { tracing.End(span, err) }()

	return s.subs.Cancel(ctx, shop)
}
