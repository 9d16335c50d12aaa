// Package subscription reconciles a shop's external billing subscription
// with its local record and performs plan changes.
package subscription

import (
	"strings"

	"postpurchase-api/internal/billing"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/plans"
)

// Source tells where a canonical subscription came from.
type Source string

const (
	SourceExternal Source = "external"
	SourceLocal    Source = "local"
	SourceDefault  Source = "default"
)

// Canonical is the single subscription view every limit check uses.
type Canonical struct {
	models.Subscription
	Source Source `json:"source"`
}

// Suspended reports whether the billing provider returned a subscription
// for the shop that is not active.
func (c Canonical) Suspended() bool {
	return c.Source == SourceExternal && !c.IsActive
}

// Reconcile merges the external subscriptions and the local row of shop.
// An active external subscription wins, with limits recovered from the plan
// catalog by name. Otherwise an active local row is used. Otherwise the
// implicit free tier applies.
func Reconcile(shop string, external []billing.ActiveSubscription, local *models.Subscription) Canonical {
	if len(external) > 0 {
		ext := external[0]
		for _, s := range external {
			if s.IsActive() {
				ext = s
				break
			}
		}
		if ext.IsActive() || local == nil || !local.IsActive {
			return Canonical{Subscription: fromExternal(shop, ext, local), Source: SourceExternal}
		}
	}

	if local != nil && local.IsActive {
		return Canonical{Subscription: *local, Source: SourceLocal}
	}

	return Canonical{Subscription: plans.DefaultSubscription(shop), Source: SourceDefault}
}

func fromExternal(shop string, ext billing.ActiveSubscription, local *models.Subscription) models.Subscription {
	plan := plans.MatchName(ext.Name)
	sub := models.Subscription{
		Shop:                  shop,
		PlanID:                plan.ID,
		PlanName:              plan.Name,
		PlanPrice:             plan.Price,
		MaxActiveOffers:       plan.MaxOffers,
		MaxImpressionsMonthly: plan.MaxImpressions,
		IsActive:              ext.IsActive(),
		Status:                strings.ToLower(ext.Status),
		BillingID:             ext.ID,
	}
	if local != nil && local.BillingID == ext.ID {
		sub.ChargeID = local.ChargeID
		sub.StartedAt = local.StartedAt
		sub.ExpiresAt = local.ExpiresAt
	}
	return sub
}
