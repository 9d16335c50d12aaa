package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_FallsBackToFree(t *testing.T) {
	assert.Equal(t, Free, Get("does-not-exist").ID)
	assert.Equal(t, int64(10), Get(Starter).MaxOffers)
	assert.Equal(t, int64(10000), Get(Professional).MaxImpressions)
}

func TestIsValid(t *testing.T) {
	for _, id := range []string{Free, Starter, Professional, Enterprise} {
		assert.True(t, IsValid(id), id)
	}
	assert.False(t, IsValid("gold"))
	assert.False(t, IsValid(""))
}

func TestPaid_ExcludesFreeAndEnterprise(t *testing.T) {
	paid := Paid()
	assert.Len(t, paid, 2)
	assert.Equal(t, Starter, paid[0].ID)
	assert.Equal(t, Professional, paid[1].ID)
}

func TestMatchName(t *testing.T) {
	tests := []struct {
		name     string
		external string
		want     string
	}{
		{"exact", "Professional", Professional},
		{"embedded", "PostPurchase Pro - Starter Plan", Starter},
		{"case insensitive", "ENTERPRISE monthly", Enterprise},
		{"unknown falls back to starter", "Legacy Gold", Starter},
		{"empty falls back to starter", "", Starter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchName(tt.external).ID)
		})
	}
}

func TestHasFeature(t *testing.T) {
	assert.False(t, HasFeature(Free, FeatureABTesting))
	assert.True(t, HasFeature(Starter, FeatureABTesting))
	assert.False(t, HasFeature(Starter, FeatureAdvancedAnalytics))
	assert.True(t, HasFeature(Professional, FeatureAdvancedAnalytics))
	assert.True(t, HasFeature(Enterprise, FeatureAdvancedAnalytics))
}

func TestDefaultSubscription(t *testing.T) {
	sub := DefaultSubscription("demo.myshopify.com")
	assert.Equal(t, "demo.myshopify.com", sub.Shop)
	assert.Equal(t, Free, sub.PlanID)
	assert.Equal(t, int64(2), sub.MaxActiveOffers)
	assert.Equal(t, int64(100), sub.MaxImpressionsMonthly)
	assert.False(t, sub.IsActive)
}

func TestAll_ReturnsCopy(t *testing.T) {
	all := All()
	all[0].Name = "mutated"
	assert.Equal(t, "Free", Get(Free).Name)
}
