package plans

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"postpurchase-api/internal/models"
)

// Plan identifiers.
const (
	Free         = "free"
	Starter      = "starter"
	Professional = "professional"
	Enterprise   = "enterprise"
)

// Feature is a plan-gated capability.
type Feature string

const (
	FeatureAdvancedAnalytics Feature = "access_analytics"
	FeatureABTesting         Feature = "ab_testing"
)

// Plan describes a subscription tier and its limits.
type Plan struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	CustomPricing  bool            `json:"custom_pricing"`
	Period         string          `json:"period"`
	MaxOffers      int64           `json:"max_offers"`
	MaxImpressions int64           `json:"max_impressions"`
	TrialDays      int             `json:"trial_days"`
	Popular        bool            `json:"popular,omitempty"`
	ContactEmail   string          `json:"contact_email,omitempty"`
	Features       []string        `json:"features"`
	Limitations    []string        `json:"limitations"`
}

var catalog = []Plan{
	{
		ID:             Free,
		Name:           "Free",
		Price:          decimal.Zero,
		Period:         "forever",
		MaxOffers:      2,
		MaxImpressions: 100,
		Features: []string{
			"Up to 2 active offers",
			"100 offer impressions/month",
			"Basic analytics",
			"Email support",
		},
		Limitations: []string{
			"Limited customization",
			"No A/B testing",
		},
	},
	{
		ID:             Starter,
		Name:           "Starter",
		Price:          decimal.NewFromInt(19),
		Period:         "/month",
		MaxOffers:      10,
		MaxImpressions: 1000,
		TrialDays:      5,
		Popular:        true,
		Features: []string{
			"Up to 10 active offers",
			"1,000 offer impressions/month",
			"Advanced analytics",
			"Priority email support",
			"Custom offer designs",
			"Basic A/B testing",
		},
		Limitations: []string{},
	},
	{
		ID:             Professional,
		Name:           "Professional",
		Price:          decimal.NewFromInt(49),
		Period:         "/month",
		MaxOffers:      50,
		MaxImpressions: 10000,
		Features: []string{
			"Up to 50 active offers",
			"10,000 offer impressions/month",
			"Advanced analytics & reports",
			"Priority support (24/7)",
			"Full customization",
			"Advanced A/B testing",
			"Audience segmentation",
			"API access",
		},
		Limitations: []string{},
	},
	{
		ID:             Enterprise,
		Name:           "Enterprise",
		Price:          decimal.Zero,
		CustomPricing:  true,
		Period:         "pricing",
		MaxOffers:      999999,
		MaxImpressions: 999999,
		ContactEmail:   "contact@1s.agency",
		Features: []string{
			"Unlimited active offers",
			"Unlimited impressions",
			"Custom analytics & reports",
			"Dedicated account manager",
			"White-label options",
			"Custom integrations",
			"SLA guarantee",
			"Advanced security features",
		},
		Limitations: []string{},
	},
}

var featurePlans = map[Feature][]string{
	FeatureAdvancedAnalytics: {Professional, Enterprise},
	FeatureABTesting:         {Starter, Professional, Enterprise},
}

// Get returns the plan with the given id, falling back to the free plan.
func Get(id string) Plan {
	for _, p := range catalog {
		if p.ID == id {
			return p
		}
	}
	return catalog[0]
}

// IsValid reports whether id names a catalog plan.
func IsValid(id string) bool {
	return slices.ContainsFunc(catalog, func(p Plan) bool { return p.ID == id })
}

// All returns every plan in catalog order.
func All() []Plan {
	return slices.Clone(catalog)
}

// Paid returns the self-serve paid plans.
func Paid() []Plan {
	var out []Plan
	for _, p := range catalog {
		if p.ID != Free && p.ID != Enterprise {
			out = append(out, p)
		}
	}
	return out
}

// MatchName finds the catalog plan whose name is contained in an external
// billing subscription name. Falls back to starter.
func MatchName(externalName string) Plan {
	name := strings.ToLower(externalName)
	for _, p := range catalog {
		if strings.Contains(name, strings.ToLower(p.Name)) {
			return p
		}
	}
	return Get(Starter)
}

// HasFeature reports whether planID is in the allowed set for feature.
func HasFeature(planID string, feature Feature) bool {
	return slices.Contains(featurePlans[feature], planID)
}

// DefaultSubscription is the implicit free tier used while a shop has no
// persisted subscription row. It is never written to storage.
func DefaultSubscription(shop string) models.Subscription {
	free := Get(Free)
	return models.Subscription{
		Shop:                  shop,
		PlanID:                free.ID,
		PlanName:              free.Name,
		PlanPrice:             free.Price,
		MaxActiveOffers:       free.MaxOffers,
		MaxImpressionsMonthly: free.MaxImpressions,
		IsActive:              false,
	}
}
