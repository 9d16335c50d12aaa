package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"postpurchase-api/internal/models"
	"postpurchase-api/internal/plans"
)

func subscription(planID string) models.Subscription {
	p := plans.Get(planID)
	return models.Subscription{
		PlanID:                p.ID,
		PlanName:              p.Name,
		MaxActiveOffers:       p.MaxOffers,
		MaxImpressionsMonthly: p.MaxImpressions,
		IsActive:              true,
	}
}

func TestCreateOffer_FlipsExactlyAtLimit(t *testing.T) {
	for _, planID := range []string{plans.Free, plans.Starter, plans.Professional} {
		sub := subscription(planID)
		for count := int64(0); count <= sub.MaxActiveOffers+3; count++ {
			d := CheckAction(ActionCreateOffer, sub, Usage{ActiveOffers: count})
			assert.Equal(t, count < sub.MaxActiveOffers, d.Allowed, "plan %s count %d", planID, count)
		}
	}
}

func TestShowOffer_FlipsExactlyAtLimit(t *testing.T) {
	sub := subscription(plans.Free)
	for n := int64(95); n <= 105; n++ {
		d := CheckAction(ActionShowOffer, sub, Usage{MonthImpressions: n})
		assert.Equal(t, n < 100, d.Allowed, "impressions %d", n)
	}
}

func TestDenialMessagesEmbedPlanAndLimit(t *testing.T) {
	sub := subscription(plans.Free)

	d := CheckAction(ActionCreateOffer, sub, Usage{ActiveOffers: 2})
	assert.Equal(t, "You've reached the maximum of 2 active offers for your Free plan", d.Message)

	d = CheckAction(ActionShowOffer, sub, Usage{MonthImpressions: 100})
	assert.Equal(t, "You've reached the monthly limit of 100 impressions for your Free plan", d.Message)
}

func TestFeatureActions(t *testing.T) {
	tests := []struct {
		plan      string
		analytics bool
		abTesting bool
	}{
		{plans.Free, false, false},
		{plans.Starter, false, true},
		{plans.Professional, true, true},
		{plans.Enterprise, true, true},
	}
	for _, tt := range tests {
		sub := subscription(tt.plan)
		assert.Equal(t, tt.analytics, CheckAction(ActionAccessAnalytics, sub, Usage{}).Allowed, tt.plan)
		assert.Equal(t, tt.abTesting, CheckAction(ActionABTesting, sub, Usage{}).Allowed, tt.plan)
	}
}

func TestUnknownActionAllowed(t *testing.T) {
	d := CheckAction("export_csv", subscription(plans.Free), Usage{ActiveOffers: 99, MonthImpressions: 9999})
	assert.True(t, d.Allowed)
	assert.Equal(t, "Action allowed", d.Message)
}

func TestMonthStart(t *testing.T) {
	now := time.Date(2025, 3, 31, 23, 59, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), MonthStart(now))
}
