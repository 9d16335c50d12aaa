package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/billing"
	"postpurchase-api/internal/cache"
	"postpurchase-api/internal/database"
	"postpurchase-api/internal/events"
	"postpurchase-api/internal/metrics"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/plans"
	"postpurchase-api/internal/usage"
)

// Plan change outcomes.
const (
	StatusDeactivated         = "deactivated"
	StatusPendingConfirmation = "pending_confirmation"
	StatusActive              = "active"
	StatusCancelled           = "cancelled"
)

// advisoryPeriod is the local expiry written for confirmed paid plans.
// Renewal is owned by the billing provider.
const advisoryPeriod = 30 * 24 * time.Hour

// Billing is the part of the billing client the manager needs.
type Billing interface {
	HasToken(ctx context.Context, shop string) (bool, error)
	ActiveSubscriptions(ctx context.Context, shop string) ([]billing.ActiveSubscription, error)
	CreateSubscription(ctx context.Context, shop string, plan plans.Plan, returnURL string) (billing.Confirmation, error)
	CancelSubscription(ctx context.Context, shop, subscriptionID string) error
	ReturnURL(shop string, plan plans.Plan) string
}

// Store persists the local subscription row.
type Store interface {
	GetSubscription(ctx context.Context, shop string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub models.Subscription, now time.Time) error
	SetSubscriptionActive(ctx context.Context, shop string, active bool, now time.Time) error
}

// ChangeResult is the outcome of ChangePlan.
type ChangeResult struct {
	Status          string               `json:"status"`
	Message         string               `json:"message"`
	PlanID          string               `json:"plan_id"`
	ConfirmationURL string               `json:"confirmationUrl,omitempty"`
	Subscription    *models.Subscription `json:"subscription,omitempty"`
}

// UsageView is the usage block of the subscription page.
type UsageView struct {
	ActiveOffers        int64    `json:"active_offers_count"`
	CanCreateMoreOffers bool     `json:"can_create_more_offers"`
	MonthImpressions    int64    `json:"month_impressions_count"`
	ImpressionsLimit    int64    `json:"impressions_limit"`
	CanShowMoreOffers   bool     `json:"can_show_more_offers"`
	PlanFeatures        []string `json:"plan_features"`
	PlanLimitations     []string `json:"plan_limitations"`
}

// View is a canonical subscription with its live usage.
type View struct {
	Subscription Canonical `json:"subscription"`
	Usage        UsageView `json:"usage"`
}

// Manager reads canonical subscriptions and performs plan changes.
type Manager struct {
	store   Store
	billing Billing
	bus     *events.Manager
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	cache        cache.Cache
	cacheTTL     time.Duration
	cacheEnabled func() bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache caches canonical subscriptions for ttl while enabled returns
// true.
func WithCache(c cache.Cache, ttl time.Duration, enabled func() bool) Option {
	return func(m *Manager) {
		m.cache = c
		m.cacheTTL = ttl
		m.cacheEnabled = enabled
	}
}

func WithEventBus(bus *events.Manager) Option {
	return func(m *Manager) { m.bus = bus }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, b Billing, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		billing: b,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func cacheKey(shop string) string {
	return "subscription:" + shop
}

func (m *Manager) cacheOn() bool {
	return m.cache != nil && (m.cacheEnabled == nil || m.cacheEnabled())
}

// GetCanonical returns the reconciled subscription of shop. The billing
// provider is only asked when an access token is stored for the shop. A
// failed billing lookup falls back to the local row and is not cached.
func (m *Manager) GetCanonical(ctx context.Context, shop string) (Canonical, error) {
	if m.cacheOn() {
		var cached Canonical
		err := cache.GetJSON(ctx, m.cache, cacheKey(shop), &cached)
		m.metrics.CacheLookup(err == nil)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			m.log.WarnContext(ctx, "subscription cache read failed",
				slog.String("shop", shop), slog.String("error", err.Error()))
		}
	}

	external, lookupErr := m.externalSubscriptions(ctx, shop)
	if lookupErr != nil {
		m.log.WarnContext(ctx, "billing lookup failed, using local subscription",
			slog.String("shop", shop), slog.String("error", lookupErr.Error()))
	}

	local, err := m.store.GetSubscription(ctx, shop)
	if err != nil {
		return Canonical{}, storeErr("Failed to get current subscription", err)
	}

	canonical := Reconcile(shop, external, local)

	if lookupErr == nil && m.cacheOn() {
		if err := cache.SetJSON(ctx, m.cache, cacheKey(shop), canonical, m.cacheTTL); err != nil {
			m.log.WarnContext(ctx, "subscription cache write failed",
				slog.String("shop", shop), slog.String("error", err.Error()))
		}
	}
	return canonical, nil
}

func (m *Manager) externalSubscriptions(ctx context.Context, shop string) ([]billing.ActiveSubscription, error) {
	ok, err := m.billing.HasToken(ctx, shop)
	if err != nil {
		return nil, storeErr("Failed to load shop session", err)
	}
	if !ok {
		return nil, nil
	}

	subs, err := m.billing.ActiveSubscriptions(ctx, shop)
	m.metrics.BillingCall("active_subscriptions", err)
	return subs, err
}

// ChangePlan moves shop to planID. The free plan cancels any external
// subscription first and only then writes the local row. Paid plans start
// an external subscription and return its confirmation URL without local
// writes. An empty returnURL uses the billing client's default.
func (m *Manager) ChangePlan(ctx context.Context, shop, planID, returnURL string) (ChangeResult, error) {
	if !plans.IsValid(planID) {
		return ChangeResult{}, apperr.Validation("Invalid plan ID provided")
	}
	plan := plans.Get(planID)

	switch {
	case plan.ID == plans.Free:
		if _, err := m.cancelExternal(ctx, shop); err != nil {
			return ChangeResult{}, err
		}

		now := m.now().UTC()
		sub := models.Subscription{
			Shop:                  shop,
			PlanID:                plan.ID,
			PlanName:              plan.Name,
			PlanPrice:             plan.Price,
			MaxActiveOffers:       plan.MaxOffers,
			MaxImpressionsMonthly: plan.MaxImpressions,
			IsActive:              true,
			StartedAt:             &now,
		}
		if err := m.store.UpsertSubscription(ctx, sub, now); err != nil {
			return ChangeResult{}, storeErr("Failed to create/update subscription", err)
		}

		m.changed(ctx, shop, plan.ID, StatusDeactivated)
		return ChangeResult{
			Status:       StatusDeactivated,
			Message:      "Switched to the Free plan",
			PlanID:       plan.ID,
			Subscription: &sub,
		}, nil

	case plan.CustomPricing:
		return ChangeResult{}, apperr.Validation("Enterprise plan requires custom pricing. Please contact sales.")

	default:
		if returnURL == "" {
			returnURL = m.billing.ReturnURL(shop, plan)
		}
		conf, err := m.billing.CreateSubscription(ctx, shop, plan, returnURL)
		m.metrics.BillingCall("create_subscription", err)
		if err != nil {
			return ChangeResult{}, err
		}

		return ChangeResult{
			Status:          StatusPendingConfirmation,
			Message:         "Subscription created successfully",
			PlanID:          plan.ID,
			ConfirmationURL: conf.ConfirmationURL,
		}, nil
	}
}

// Confirm records a paid plan after the merchant approved it with the
// billing provider.
func (m *Manager) Confirm(ctx context.Context, shop, planID, chargeID string) (Canonical, error) {
	external, err := m.externalSubscriptions(ctx, shop)
	if err != nil {
		return Canonical{}, err
	}

	var approved *billing.ActiveSubscription
	for i := range external {
		if external[i].IsActive() {
			approved = &external[i]
			break
		}
	}
	if approved == nil {
		return Canonical{}, apperr.Validation("No approved subscription found for this shop")
	}

	// The plan hint from the return URL wins when it names a self-serve plan.
	plan := plans.MatchName(approved.Name)
	for _, p := range plans.Paid() {
		if p.ID == planID {
			plan = p
		}
	}

	now := m.now().UTC()
	expires := now.Add(advisoryPeriod)
	sub := models.Subscription{
		Shop:                  shop,
		PlanID:                plan.ID,
		PlanName:              plan.Name,
		PlanPrice:             plan.Price,
		MaxActiveOffers:       plan.MaxOffers,
		MaxImpressionsMonthly: plan.MaxImpressions,
		IsActive:              true,
		BillingID:             approved.ID,
		ChargeID:              chargeID,
		StartedAt:             &now,
		ExpiresAt:             &expires,
	}
	if err := m.store.UpsertSubscription(ctx, sub, now); err != nil {
		return Canonical{}, storeErr("Failed to create/update subscription", err)
	}

	m.changed(ctx, shop, plan.ID, StatusActive)
	return Canonical{Subscription: sub, Source: SourceLocal}, nil
}

// Cancel cancels the external subscription of shop and then deactivates
// the local row. A shop without an external subscription counts as
// already cancelled.
func (m *Manager) Cancel(ctx context.Context, shop string) (string, error) {
	cancelled, err := m.cancelExternal(ctx, shop)
	if err != nil {
		return "", err
	}

	err = m.store.SetSubscriptionActive(ctx, shop, false, m.now().UTC())
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return "", storeErr("Failed to cancel subscription", err)
	}

	m.changed(ctx, shop, "", StatusCancelled)
	if !cancelled {
		return "No active subscription found to cancel", nil
	}
	return "Subscription cancelled successfully", nil
}

// cancelExternal cancels the first external subscription of shop and
// reports whether there was one.
func (m *Manager) cancelExternal(ctx context.Context, shop string) (bool, error) {
	external, err := m.externalSubscriptions(ctx, shop)
	if err != nil {
		return false, err
	}
	if len(external) == 0 {
		return false, nil
	}

	err = m.billing.CancelSubscription(ctx, shop, external[0].ID)
	m.metrics.BillingCall("cancel_subscription", err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// WithUsage pairs the canonical subscription of shop with u.
func (m *Manager) WithUsage(ctx context.Context, shop string, u usage.Usage) (View, error) {
	canonical, err := m.GetCanonical(ctx, shop)
	if err != nil {
		return View{}, err
	}
	return NewView(canonical, u), nil
}

// NewView derives the usage flags of canonical.
func NewView(canonical Canonical, u usage.Usage) View {
	plan := plans.Get(canonical.PlanID)
	return View{
		Subscription: canonical,
		Usage: UsageView{
			ActiveOffers:        u.ActiveOffers,
			CanCreateMoreOffers: usage.CheckAction(usage.ActionCreateOffer, canonical.Subscription, u).Allowed,
			MonthImpressions:    u.MonthImpressions,
			ImpressionsLimit:    canonical.MaxImpressionsMonthly,
			CanShowMoreOffers:   usage.CheckAction(usage.ActionShowOffer, canonical.Subscription, u).Allowed,
			PlanFeatures:        plan.Features,
			PlanLimitations:     plan.Limitations,
		},
	}
}

func (m *Manager) changed(ctx context.Context, shop, planID, status string) {
	if m.cache != nil {
		if err := m.cache.Delete(ctx, cacheKey(shop)); err != nil {
			m.log.WarnContext(ctx, "subscription cache invalidation failed",
				slog.String("shop", shop), slog.String("error", err.Error()))
		}
	}
	if m.bus != nil {
		m.bus.PublishSubscriptionChanged(ctx, shop, planID, status)
	}
	m.log.InfoContext(ctx, "subscription changed",
		slog.String("shop", shop),
		slog.String("plan_id", planID),
		slog.String("status", status))
}

func storeErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(msg, err)
	}
	return apperr.Persistence(msg, err)
}
