package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"postpurchase-api/internal/models"
)

// GetSubscription returns the stored subscription row of shop, or nil when
// the shop has none.
func (db *DB) GetSubscription(ctx context.Context, shop string) (*models.Subscription, error) {
	var (
		sub                  models.Subscription
		planPrice            string
		startedAt, expiresAt sql.NullString
	)

	err := db.conn.QueryRowContext(ctx, `SELECT shop, plan_id, plan_name, plan_price,
		max_active_offers, max_impressions_monthly, is_active,
		billing_subscription_id, charge_id, started_at, expires_at
		FROM subscriptions WHERE shop = ?`, shop,
	).Scan(
		&sub.Shop,
		&sub.PlanID,
		&sub.PlanName,
		&planPrice,
		&sub.MaxActiveOffers,
		&sub.MaxImpressionsMonthly,
		&sub.IsActive,
		&sub.BillingID,
		&sub.ChargeID,
		&startedAt,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}

	sub.PlanPrice = parseDecimal(planPrice)
	if sub.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if sub.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	return &sub, nil
}

// UpsertSubscription creates or replaces the single subscription row of a
// shop.
func (db *DB) UpsertSubscription(ctx context.Context, sub models.Subscription, now time.Time) error {
	query := `INSERT INTO subscriptions (
		shop, plan_id, plan_name, plan_price, max_active_offers, max_impressions_monthly,
		is_active, billing_subscription_id, charge_id, started_at, expires_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(shop) DO UPDATE SET
		plan_id = excluded.plan_id,
		plan_name = excluded.plan_name,
		plan_price = excluded.plan_price,
		max_active_offers = excluded.max_active_offers,
		max_impressions_monthly = excluded.max_impressions_monthly,
		is_active = excluded.is_active,
		billing_subscription_id = excluded.billing_subscription_id,
		charge_id = excluded.charge_id,
		started_at = excluded.started_at,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

	ts := formatTime(now)
	_, err := db.conn.ExecContext(ctx, query,
		sub.Shop,
		sub.PlanID,
		sub.PlanName,
		sub.PlanPrice.String(),
		sub.MaxActiveOffers,
		sub.MaxImpressionsMonthly,
		sub.IsActive,
		sub.BillingID,
		sub.ChargeID,
		formatTimePtr(sub.StartedAt),
		formatTimePtr(sub.ExpiresAt),
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// SetSubscriptionActive flips the active flag of the shop's row. Returns
// ErrNotFound when the shop has no row.
func (db *DB) SetSubscriptionActive(ctx context.Context, shop string, active bool, now time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = ?, updated_at = ? WHERE shop = ?`,
		active, formatTime(now), shop)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
