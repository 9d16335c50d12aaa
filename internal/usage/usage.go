// Package usage decides whether a shop's plan allows an action given its
// current usage. It never touches storage.
package usage

import (
	"fmt"
	"time"

	"postpurchase-api/internal/models"
	"postpurchase-api/internal/plans"
)

// Action is a plan-gated operation.
type Action string

const (
	ActionCreateOffer     Action = "create_offer"
	ActionShowOffer       Action = "show_offer"
	ActionAccessAnalytics Action = "access_analytics"
	ActionABTesting       Action = "ab_testing"
)

// Usage is the live usage of a shop.
type Usage struct {
	ActiveOffers     int64 `json:"active_offers_count"`
	MonthImpressions int64 `json:"month_impressions_count"`
}

// Decision is the outcome of CheckAction. Message is safe to show to
// merchants.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message"`
}

// CheckAction evaluates action against the subscription limits and usage.
// Unknown actions are allowed.
func CheckAction(action Action, sub models.Subscription, u Usage) Decision {
	switch action {
	case ActionCreateOffer:
		if u.ActiveOffers < sub.MaxActiveOffers {
			return Decision{Allowed: true, Message: "You can create more offers"}
		}
		return Decision{
			Message: fmt.Sprintf("You've reached the maximum of %d active offers for your %s plan",
				sub.MaxActiveOffers, sub.PlanName),
		}

	case ActionShowOffer:
		if u.MonthImpressions < sub.MaxImpressionsMonthly {
			return Decision{Allowed: true, Message: "You can show more offers"}
		}
		return Decision{
			Message: fmt.Sprintf("You've reached the monthly limit of %d impressions for your %s plan",
				sub.MaxImpressionsMonthly, sub.PlanName),
		}

	case ActionAccessAnalytics:
		if plans.HasFeature(sub.PlanID, plans.FeatureAdvancedAnalytics) {
			return Decision{Allowed: true, Message: "You have access to advanced analytics"}
		}
		return Decision{Message: "Upgrade to Professional or Enterprise plan to access advanced analytics"}

	case ActionABTesting:
		if plans.HasFeature(sub.PlanID, plans.FeatureABTesting) {
			return Decision{Allowed: true, Message: "A/B testing is available"}
		}
		return Decision{Message: "Upgrade to Starter plan or higher to access A/B testing"}

	default:
		return Decision{Allowed: true, Message: "Action allowed"}
	}
}

// MonthStart returns midnight UTC on the first day of now's month.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
