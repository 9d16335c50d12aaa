package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"postpurchase-api/internal/models"
)

// DailyDelta is the counter contribution of one event to a daily aggregate.
type DailyDelta struct {
	Impressions  int64
	Views        int64
	Conversions  int64
	Declines     int64
	RevenueCents int64
}

// DashboardTotals sums the daily aggregates of a shop over a window.
type DashboardTotals struct {
	Impressions           int64
	Views                 int64
	Conversions           int64
	Declines              int64
	Revenue               decimal.Decimal
	AverageConversionRate float64
}

// InsertEvent appends a raw funnel event. Events outlive their offer, so
// there is no foreign key; the offer must exist when the event is written
// and ErrNotFound is returned otherwise.
func (db *DB) InsertEvent(ctx context.Context, event models.OfferEvent) error {
	var eventData any
	if len(event.EventData) > 0 {
		eventData = string(event.EventData)
	}

	res, err := db.conn.ExecContext(ctx, `INSERT INTO offer_events (
		id, shop, offer_id, event_type, customer_id, order_id, product_id, variant_id,
		revenue_cents, discount_cents, session_id, user_agent, ip_address, referrer,
		event_data, created_at
	) SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM offers WHERE id = ? AND shop = ?)`,
		event.ID,
		event.Shop,
		event.OfferID,
		string(event.EventType),
		event.CustomerID,
		event.OrderID,
		event.ProductID,
		event.VariantID,
		ToCents(event.RevenueAmount),
		ToCents(event.DiscountAmount),
		event.SessionID,
		event.UserAgent,
		event.IPAddress,
		event.Referrer,
		eventData,
		formatTime(event.CreatedAt),
		event.OfferID,
		event.Shop,
	)
	if err != nil {
		return fmt.Errorf("failed to insert offer event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementDaily adds delta to the (shop, offer, day) aggregate, creating
// the row on the first event of the day. The increment is a single
// statement so concurrent writers never lose counts.
func (db *DB) IncrementDaily(ctx context.Context, shop, offerID, day string, delta DailyDelta, now time.Time) error {
	ts := formatTime(now)
	_, err := db.conn.ExecContext(ctx, `INSERT INTO daily_analytics (
		id, shop, offer_id, day, impressions, views, conversions, declines,
		revenue_cents, conversion_rate, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	ON CONFLICT(shop, offer_id, day) DO UPDATE SET
		impressions = impressions + excluded.impressions,
		views = views + excluded.views,
		conversions = conversions + excluded.conversions,
		declines = declines + excluded.declines,
		revenue_cents = revenue_cents + excluded.revenue_cents,
		updated_at = excluded.updated_at`,
		uuid.New().String(),
		shop,
		offerID,
		day,
		delta.Impressions,
		delta.Views,
		delta.Conversions,
		delta.Declines,
		delta.RevenueCents,
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily analytics: %w", err)
	}
	return nil
}

const dailyColumns = `id, shop, offer_id, day, impressions, views, conversions, declines,
	revenue_cents, conversion_rate`

func scanDaily(row rowScanner) (models.DailyAnalytics, error) {
	var (
		d            models.DailyAnalytics
		day          string
		revenueCents int64
	)
	err := row.Scan(
		&d.ID,
		&d.Shop,
		&d.OfferID,
		&day,
		&d.Impressions,
		&d.Views,
		&d.Conversions,
		&d.Declines,
		&revenueCents,
		&d.ConversionRate,
	)
	if err != nil {
		return models.DailyAnalytics{}, err
	}

	d.Revenue = FromCents(revenueCents)
	if d.Date, err = time.Parse(dayLayout, day); err != nil {
		return models.DailyAnalytics{}, fmt.Errorf("failed to parse day: %w", err)
	}
	return d, nil
}

// GetDaily returns the aggregate row for (shop, offer, day).
func (db *DB) GetDaily(ctx context.Context, shop, offerID, day string) (models.DailyAnalytics, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+dailyColumns+` FROM daily_analytics WHERE shop = ? AND offer_id = ? AND day = ?`,
		shop, offerID, day)

	d, err := scanDaily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DailyAnalytics{}, ErrNotFound
	}
	if err != nil {
		return models.DailyAnalytics{}, fmt.Errorf("failed to query daily analytics: %w", err)
	}
	return d, nil
}

// SetConversionRate overwrites the derived rate of one aggregate row.
func (db *DB) SetConversionRate(ctx context.Context, id string, rate float64, now time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE daily_analytics SET conversion_rate = ?, updated_at = ? WHERE id = ?`,
		rate, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to update conversion rate: %w", err)
	}
	return nil
}

// ListDaily returns aggregates of shop with day >= since. An empty offerID
// lists every offer. Rows are ordered newest day first.
func (db *DB) ListDaily(ctx context.Context, shop, offerID string, since time.Time) ([]models.DailyAnalytics, error) {
	query := `SELECT ` + dailyColumns + ` FROM daily_analytics WHERE day >= ?`
	args := []any{DayBucket(since)}

	if shop != "" {
		query += ` AND shop = ?`
		args = append(args, shop)
	}
	if offerID != "" {
		query += ` AND offer_id = ?`
		args = append(args, offerID)
	}
	query += ` ORDER BY day DESC, offer_id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily analytics: %w", err)
	}
	defer rows.Close()

	var out []models.DailyAnalytics
	for rows.Next() {
		d, err := scanDaily(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily analytics: %w", err)
		}
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily analytics: %w", err)
	}
	return out, nil
}

// ListEvents returns raw events of one offer created at or after since,
// newest first.
func (db *DB) ListEvents(ctx context.Context, shop, offerID string, since time.Time) ([]models.OfferEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, shop, offer_id, event_type, customer_id,
		order_id, product_id, variant_id, revenue_cents, discount_cents, session_id,
		user_agent, ip_address, referrer, event_data, created_at
		FROM offer_events
		WHERE shop = ? AND offer_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id`,
		shop, offerID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query offer events: %w", err)
	}
	defer rows.Close()

	var out []models.OfferEvent
	for rows.Next() {
		var (
			e                          models.OfferEvent
			eventType                  string
			revenueCents, discountCent int64
			eventData                  sql.NullString
			createdAt                  string
		)
		err := rows.Scan(
			&e.ID,
			&e.Shop,
			&e.OfferID,
			&eventType,
			&e.CustomerID,
			&e.OrderID,
			&e.ProductID,
			&e.VariantID,
			&revenueCents,
			&discountCent,
			&e.SessionID,
			&e.UserAgent,
			&e.IPAddress,
			&e.Referrer,
			&eventData,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer event: %w", err)
		}

		e.EventType = models.EventType(eventType)
		e.RevenueAmount = FromCents(revenueCents)
		e.DiscountAmount = FromCents(discountCent)
		if eventData.Valid {
			e.EventData = []byte(eventData.String)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offer events: %w", err)
	}
	return out, nil
}

// SumImpressions sums aggregate impressions of shop for days in [from, to].
func (db *DB) SumImpressions(ctx context.Context, shop string, from, to time.Time) (int64, error) {
	var total int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(impressions), 0) FROM daily_analytics
		WHERE shop = ? AND day >= ? AND day <= ?`,
		shop, DayBucket(from), DayBucket(to),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum impressions: %w", err)
	}
	return total, nil
}

// Totals sums every aggregate of shop with day >= since.
func (db *DB) Totals(ctx context.Context, shop string, since time.Time) (DashboardTotals, error) {
	var (
		t            DashboardTotals
		revenueCents int64
	)
	err := db.conn.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(impressions), 0),
		COALESCE(SUM(views), 0),
		COALESCE(SUM(conversions), 0),
		COALESCE(SUM(declines), 0),
		COALESCE(SUM(revenue_cents), 0),
		COALESCE(AVG(conversion_rate), 0)
		FROM daily_analytics WHERE shop = ? AND day >= ?`,
		shop, DayBucket(since),
	).Scan(&t.Impressions, &t.Views, &t.Conversions, &t.Declines, &revenueCents, &t.AverageConversionRate)
	if err != nil {
		return DashboardTotals{}, fmt.Errorf("failed to aggregate analytics: %w", err)
	}

	t.Revenue = FromCents(revenueCents)
	return t, nil
}

// AllDaily returns every aggregate row, optionally limited to one shop.
func (db *DB) AllDaily(ctx context.Context, shop string) ([]models.DailyAnalytics, error) {
	return db.ListDaily(ctx, shop, "", time.Time{})
}

// SetConversionRates overwrites the rates of many rows in one transaction.
func (db *DB) SetConversionRates(ctx context.Context, rates map[string]float64, now time.Time) error {
	if len(rates) == 0 {
		return nil
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE daily_analytics SET conversion_rate = ?, updated_at = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		ts := formatTime(now)
		for id, rate := range rates {
			if _, err := stmt.ExecContext(ctx, rate, ts, id); err != nil {
				return fmt.Errorf("failed to update conversion rate of %s: %w", id, err)
			}
		}
		return nil
	})
}
