package subscription

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/billing"
	"postpurchase-api/internal/cache"
	"postpurchase-api/internal/database"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/plans"
	"postpurchase-api/internal/usage"
)

const testShop = "demo.myshopify.com"

var fixedNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

type fakeBilling struct {
	hasToken   bool
	active     []billing.ActiveSubscription
	listErr    error
	createErr  error
	cancelErr  error
	cancelled  []string
	created    []string
	listCalls  int
	returnURLs []string
}

func (f *fakeBilling) HasToken(context.Context, string) (bool, error) { return f.hasToken, nil }

func (f *fakeBilling) ActiveSubscriptions(context.Context, string) ([]billing.ActiveSubscription, error) {
	f.listCalls++
	return f.active, f.listErr
}

func (f *fakeBilling) CreateSubscription(_ context.Context, _ string, plan plans.Plan, returnURL string) (billing.Confirmation, error) {
	if f.createErr != nil {
		return billing.Confirmation{}, f.createErr
	}
	f.created = append(f.created, plan.ID)
	f.returnURLs = append(f.returnURLs, returnURL)
	return billing.Confirmation{ConfirmationURL: "https://billing.example/confirm/" + plan.ID, Status: "PENDING"}, nil
}

func (f *fakeBilling) CancelSubscription(_ context.Context, _ string, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBilling) ReturnURL(shop string, plan plans.Plan) string {
	return "https://app.example/plans?plan=" + plan.ID
}

func setupManager(t *testing.T, b *fakeBilling, opts ...Option) (*Manager, *database.DB) {
	t.Helper()
	db, err := database.NewDB(context.Background(), filepath.Join(t.TempDir(), "test.db"), database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewManager(db, b, opts...), db
}

func localRow(planID string, active bool) *models.Subscription {
	p := plans.Get(planID)
	return &models.Subscription{
		Shop:                  testShop,
		PlanID:                p.ID,
		PlanName:              p.Name,
		PlanPrice:             p.Price,
		MaxActiveOffers:       p.MaxOffers,
		MaxImpressionsMonthly: p.MaxImpressions,
		IsActive:              active,
	}
}

func TestReconcile_ExternalWinsOverLocal(t *testing.T) {
	external := []billing.ActiveSubscription{{ID: "gid://shopify/AppSubscription/1", Name: "Professional", Status: "ACTIVE"}}

	c := Reconcile(testShop, external, localRow(plans.Starter, true))

	assert.Equal(t, SourceExternal, c.Source)
	assert.Equal(t, plans.Professional, c.PlanID)
	assert.Equal(t, int64(50), c.MaxActiveOffers)
	assert.Equal(t, int64(10000), c.MaxImpressionsMonthly)
	assert.True(t, c.IsActive)
	assert.False(t, c.Suspended())
}

func TestReconcile_UnknownExternalNameFallsBackToStarter(t *testing.T) {
	external := []billing.ActiveSubscription{{ID: "1", Name: "Legacy bundle", Status: "ACTIVE"}}

	c := Reconcile(testShop, external, nil)

	assert.Equal(t, plans.Starter, c.PlanID)
	assert.Equal(t, int64(10), c.MaxActiveOffers)
}

func TestReconcile_ActiveLocalRow(t *testing.T) {
	c := Reconcile(testShop, nil, localRow(plans.Starter, true))
	assert.Equal(t, SourceLocal, c.Source)
	assert.Equal(t, plans.Starter, c.PlanID)
}

func TestReconcile_InactiveLocalRowUsesFreeDefault(t *testing.T) {
	c := Reconcile(testShop, nil, localRow(plans.Professional, false))
	assert.Equal(t, SourceDefault, c.Source)
	assert.Equal(t, plans.Free, c.PlanID)
	assert.Equal(t, int64(2), c.MaxActiveOffers)
	assert.Equal(t, int64(100), c.MaxImpressionsMonthly)
	assert.False(t, c.Suspended())
}

func TestReconcile_InactiveExternal(t *testing.T) {
	external := []billing.ActiveSubscription{{ID: "1", Name: "Starter", Status: "FROZEN"}}

	c := Reconcile(testShop, external, nil)
	assert.True(t, c.Suspended())

	c = Reconcile(testShop, external, localRow(plans.Professional, true))
	assert.Equal(t, SourceLocal, c.Source)
}

func TestGetCanonical_SkipsBillingWithoutToken(t *testing.T) {
	b := &fakeBilling{active: []billing.ActiveSubscription{{ID: "1", Name: "Starter", Status: "ACTIVE"}}}
	m, _ := setupManager(t, b)

	c, err := m.GetCanonical(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, c.Source)
	assert.Equal(t, 0, b.listCalls)
}

func TestGetCanonical_BillingFailureFallsBackToLocal(t *testing.T) {
	b := &fakeBilling{hasToken: true, listErr: apperr.ExternalService("billing down", errors.New("502"))}
	m, db := setupManager(t, b)
	require.NoError(t, db.UpsertSubscription(context.Background(), *localRow(plans.Starter, true), fixedNow))

	c, err := m.GetCanonical(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, c.Source)
	assert.Equal(t, plans.Starter, c.PlanID)
}

func TestGetCanonical_CachedUntilPlanChange(t *testing.T) {
	b := &fakeBilling{hasToken: true, active: []billing.ActiveSubscription{{ID: "1", Name: "Starter", Status: "ACTIVE"}}}
	c := cache.NewLRUCache(16, time.Hour)
	m, _ := setupManager(t, b, WithCache(c, time.Minute, nil))
	ctx := context.Background()

	first, err := m.GetCanonical(ctx, testShop)
	require.NoError(t, err)
	second, err := m.GetCanonical(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, first.PlanID, second.PlanID)
	assert.Equal(t, 1, b.listCalls)

	_, err = m.ChangePlan(ctx, testShop, plans.Free, "")
	require.NoError(t, err)
	b.active = nil

	third, err := m.GetCanonical(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, plans.Free, third.PlanID)
	assert.Equal(t, SourceLocal, third.Source)
}

func TestChangePlan_FreeCancelsExternalFirst(t *testing.T) {
	b := &fakeBilling{hasToken: true, active: []billing.ActiveSubscription{{ID: "sub-1", Name: "Professional", Status: "ACTIVE"}}}
	m, db := setupManager(t, b)
	ctx := context.Background()

	res, err := m.ChangePlan(ctx, testShop, plans.Free, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDeactivated, res.Status)
	assert.Equal(t, []string{"sub-1"}, b.cancelled)

	row, err := db.GetSubscription(ctx, testShop)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, plans.Free, row.PlanID)
	assert.True(t, row.IsActive)
}

func TestChangePlan_FreeCancelFailureLeavesLocalRowUnchanged(t *testing.T) {
	b := &fakeBilling{
		hasToken:  true,
		active:    []billing.ActiveSubscription{{ID: "sub-1", Name: "Professional", Status: "ACTIVE"}},
		cancelErr: apperr.ExternalService("Failed to cancel subscription", errors.New("connection reset")),
	}
	m, db := setupManager(t, b)
	ctx := context.Background()
	before := localRow(plans.Professional, true)
	require.NoError(t, db.UpsertSubscription(ctx, *before, fixedNow))

	_, err := m.ChangePlan(ctx, testShop, plans.Free, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternalService))

	row, err := db.GetSubscription(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, plans.Professional, row.PlanID)
	assert.True(t, row.IsActive)
}

func TestChangePlan_PaidReturnsConfirmationWithoutLocalWrite(t *testing.T) {
	b := &fakeBilling{hasToken: true}
	m, db := setupManager(t, b)
	ctx := context.Background()

	res, err := m.ChangePlan(ctx, testShop, plans.Starter, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingConfirmation, res.Status)
	assert.Equal(t, "https://billing.example/confirm/starter", res.ConfirmationURL)
	assert.Equal(t, []string{"https://app.example/plans?plan=starter"}, b.returnURLs)

	row, err := db.GetSubscription(ctx, testShop)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestChangePlan_Rejections(t *testing.T) {
	m, _ := setupManager(t, &fakeBilling{hasToken: true})

	_, err := m.ChangePlan(context.Background(), testShop, "platinum", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = m.ChangePlan(context.Background(), testShop, plans.Enterprise, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "contact sales")
}

func TestConfirm_PersistsApprovedPlan(t *testing.T) {
	b := &fakeBilling{hasToken: true, active: []billing.ActiveSubscription{{ID: "sub-9", Name: "Starter", Status: "ACTIVE"}}}
	m, db := setupManager(t, b)
	ctx := context.Background()

	c, err := m.Confirm(ctx, testShop, plans.Starter, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, plans.Starter, c.PlanID)

	row, err := db.GetSubscription(ctx, testShop)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.IsActive)
	assert.Equal(t, "sub-9", row.BillingID)
	assert.Equal(t, "charge-1", row.ChargeID)
	require.NotNil(t, row.ExpiresAt)
	assert.True(t, row.ExpiresAt.Equal(fixedNow.Add(30*24*time.Hour)))
	assert.True(t, decimal.NewFromInt(19).Equal(row.PlanPrice))
}

func TestConfirm_WithoutApprovalFails(t *testing.T) {
	m, db := setupManager(t, &fakeBilling{hasToken: true})

	_, err := m.Confirm(context.Background(), testShop, plans.Starter, "")
	require.Error(t, err)

	row, err := db.GetSubscription(context.Background(), testShop)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels external then deactivates local", func(t *testing.T) {
		b := &fakeBilling{hasToken: true, active: []billing.ActiveSubscription{{ID: "sub-1", Name: "Starter", Status: "ACTIVE"}}}
		m, db := setupManager(t, b)
		require.NoError(t, db.UpsertSubscription(ctx, *localRow(plans.Starter, true), fixedNow))

		msg, err := m.Cancel(ctx, testShop)
		require.NoError(t, err)
		assert.Equal(t, "Subscription cancelled successfully", msg)

		row, err := db.GetSubscription(ctx, testShop)
		require.NoError(t, err)
		assert.False(t, row.IsActive)
	})

	t.Run("nothing to cancel is success", func(t *testing.T) {
		m, _ := setupManager(t, &fakeBilling{hasToken: true})
		msg, err := m.Cancel(ctx, testShop)
		require.NoError(t, err)
		assert.Equal(t, "No active subscription found to cancel", msg)
	})

	t.Run("external failure keeps local row", func(t *testing.T) {
		b := &fakeBilling{
			hasToken:  true,
			active:    []billing.ActiveSubscription{{ID: "sub-1", Name: "Starter", Status: "ACTIVE"}},
			cancelErr: apperr.Rejected("Failed to cancel subscription", errors.New("already cancelled")),
		}
		m, db := setupManager(t, b)
		require.NoError(t, db.UpsertSubscription(ctx, *localRow(plans.Starter, true), fixedNow))

		_, err := m.Cancel(ctx, testShop)
		require.Error(t, err)

		row, err := db.GetSubscription(ctx, testShop)
		require.NoError(t, err)
		assert.True(t, row.IsActive)
	})
}

func TestNewView(t *testing.T) {
	c := Canonical{Subscription: plans.DefaultSubscription(testShop), Source: SourceDefault}

	v := NewView(c, usage.Usage{ActiveOffers: 2, MonthImpressions: 40})
	assert.False(t, v.Usage.CanCreateMoreOffers)
	assert.True(t, v.Usage.CanShowMoreOffers)
	assert.Equal(t, int64(100), v.Usage.ImpressionsLimit)
	assert.NotEmpty(t, v.Usage.PlanFeatures)
}
