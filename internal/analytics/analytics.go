// Package analytics records funnel events and maintains the per-offer daily
// aggregates derived from them.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/database"
	"postpurchase-api/internal/events"
	"postpurchase-api/internal/metrics"
	"postpurchase-api/internal/models"
)

// DefaultWindowDays is the dashboard window when none is requested.
const DefaultWindowDays = 30

// Store is the storage the recorder needs.
type Store interface {
	InsertEvent(ctx context.Context, event models.OfferEvent) error
	IncrementDaily(ctx context.Context, shop, offerID, day string, delta database.DailyDelta, now time.Time) error
	GetDaily(ctx context.Context, shop, offerID, day string) (models.DailyAnalytics, error)
	SetConversionRate(ctx context.Context, id string, rate float64, now time.Time) error
	SetConversionRates(ctx context.Context, rates map[string]float64, now time.Time) error
	SumImpressions(ctx context.Context, shop string, from, to time.Time) (int64, error)
	Totals(ctx context.Context, shop string, since time.Time) (database.DashboardTotals, error)
	ListDaily(ctx context.Context, shop, offerID string, since time.Time) ([]models.DailyAnalytics, error)
	ListEvents(ctx context.Context, shop, offerID string, since time.Time) ([]models.OfferEvent, error)
	AllDaily(ctx context.Context, shop string) ([]models.DailyAnalytics, error)
	CountOffers(ctx context.Context, shop string) (int64, error)
	CountActiveOffers(ctx context.Context, shop, excludeID string) (int64, error)
}

// EventContext carries the optional attributes of a funnel event.
type EventContext struct {
	CustomerID     string
	OrderID        string
	ProductID      string
	VariantID      string
	RevenueAmount  decimal.Decimal
	DiscountAmount decimal.Decimal
	SessionID      string
	UserAgent      string
	IPAddress      string
	Referrer       string
	Data           json.RawMessage
}

// ImpressionLimits is the monthly impression budget of a shop.
type ImpressionLimits struct {
	TotalImpressions     int64 `json:"totalImpressions"`
	MaxImpressions       int64 `json:"maxImpressions"`
	LimitReached         bool  `json:"limitReached"`
	RemainingImpressions int64 `json:"remainingImpressions"`
}

// Dashboard summarizes a shop's funnel over a window.
type Dashboard struct {
	TotalOffers    int64           `json:"total_offers"`
	ActiveOffers   int64           `json:"active_offers"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	ConversionRate float64         `json:"conversion_rate"`
	Impressions    int64           `json:"impressions"`
	Views          int64           `json:"views"`
	Conversions    int64           `json:"conversions"`
	Declines       int64           `json:"declines"`
}

// OfferSeries is the daily history and raw events of one offer.
type OfferSeries struct {
	Analytics []models.DailyAnalytics `json:"analytics"`
	Events    []models.OfferEvent     `json:"events"`
}

// Recorder writes funnel events and serves analytics reads.
type Recorder struct {
	store   Store
	bus     *events.Manager
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithEventBus(bus *events.Manager) Option {
	return func(r *Recorder) { r.bus = bus }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: store,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConversionRate is conversions over every post-impression interaction, as
// a percentage. It is 0 when there were no interactions.
func ConversionRate(conversions, views, declines int64) float64 {
	total := views + declines + conversions
	if total <= 0 {
		return 0
	}
	return float64(conversions) / float64(total) * 100
}

func deltaFor(eventType models.EventType, revenue decimal.Decimal) database.DailyDelta {
	switch eventType {
	case models.EventImpression:
		return database.DailyDelta{Impressions: 1}
	case models.EventView:
		return database.DailyDelta{Views: 1}
	case models.EventAccept:
		return database.DailyDelta{Conversions: 1, RevenueCents: database.ToCents(revenue)}
	case models.EventDecline:
		return database.DailyDelta{Declines: 1}
	default:
		return database.DailyDelta{}
	}
}

// RecordEvent appends a raw event and folds it into today's aggregate for
// the offer. When the raw event is stored but the aggregate update fails,
// the stored event is returned together with a partial persistence error.
func (r *Recorder) RecordEvent(ctx context.Context, shop, offerID string, eventType models.EventType, ec EventContext) (models.OfferEvent, error) {
	now := r.now().UTC()
	event := models.OfferEvent{
		ID:             uuid.New().String(),
		Shop:           shop,
		OfferID:        offerID,
		EventType:      eventType,
		CustomerID:     ec.CustomerID,
		OrderID:        ec.OrderID,
		ProductID:      ec.ProductID,
		VariantID:      ec.VariantID,
		RevenueAmount:  ec.RevenueAmount,
		DiscountAmount: ec.DiscountAmount,
		SessionID:      ec.SessionID,
		UserAgent:      ec.UserAgent,
		IPAddress:      ec.IPAddress,
		Referrer:       ec.Referrer,
		EventData:      ec.Data,
		CreatedAt:      now,
	}

	if err := r.store.InsertEvent(ctx, event); err != nil {
		r.metrics.EventFailed("event")
		if errors.Is(err, database.ErrNotFound) {
			return models.OfferEvent{}, apperr.NotFound("Offer not found")
		}
		return models.OfferEvent{}, persistenceErr("Failed to record event", err)
	}

	if err := r.updateDaily(ctx, event); err != nil {
		r.metrics.EventFailed("aggregate")
		r.log.ErrorContext(ctx, "daily analytics update failed",
			slog.String("shop", shop),
			slog.String("offer_id", offerID),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()))
		return event, apperr.PartialPersistence("Event recorded but analytics update failed", err)
	}

	r.metrics.EventRecorded(string(eventType))
	if r.bus != nil {
		r.bus.PublishFunnelRecorded(ctx, event)
	}
	return event, nil
}

func (r *Recorder) updateDaily(ctx context.Context, event models.OfferEvent) error {
	day := database.DayBucket(event.CreatedAt)
	delta := deltaFor(event.EventType, event.RevenueAmount)

	if err := r.store.IncrementDaily(ctx, event.Shop, event.OfferID, day, delta, event.CreatedAt); err != nil {
		return err
	}

	row, err := r.store.GetDaily(ctx, event.Shop, event.OfferID, day)
	if err != nil {
		return fmt.Errorf("failed to reload daily analytics: %w", err)
	}

	rate := ConversionRate(row.Conversions, row.Views, row.Declines)
	if rate == row.ConversionRate {
		return nil
	}
	return r.store.SetConversionRate(ctx, row.ID, rate, event.CreatedAt)
}

// CheckImpressionLimits reports the shop's impressions since the start of
// the current UTC month against maxImpressions.
func (r *Recorder) CheckImpressionLimits(ctx context.Context, shop string, maxImpressions int64) (ImpressionLimits, error) {
	now := r.now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	total, err := r.store.SumImpressions(ctx, shop, from, now)
	if err != nil {
		return ImpressionLimits{}, persistenceErr("Failed to check impression limits", err)
	}

	return ImpressionLimits{
		TotalImpressions:     total,
		MaxImpressions:       maxImpressions,
		LimitReached:         total >= maxImpressions,
		RemainingImpressions: max(0, maxImpressions-total),
	}, nil
}

// Dashboard sums the shop's aggregates over the last days days. A
// non-positive days uses DefaultWindowDays.
func (r *Recorder) Dashboard(ctx context.Context, shop string, days int) (Dashboard, error) {
	since := r.windowStart(days)

	totals, err := r.store.Totals(ctx, shop, since)
	if err != nil {
		return Dashboard{}, persistenceErr("Failed to get dashboard analytics", err)
	}
	totalOffers, err := r.store.CountOffers(ctx, shop)
	if err != nil {
		return Dashboard{}, persistenceErr("Failed to get dashboard analytics", err)
	}
	activeOffers, err := r.store.CountActiveOffers(ctx, shop, "")
	if err != nil {
		return Dashboard{}, persistenceErr("Failed to get dashboard analytics", err)
	}

	return Dashboard{
		TotalOffers:    totalOffers,
		ActiveOffers:   activeOffers,
		TotalRevenue:   totals.Revenue,
		ConversionRate: totals.AverageConversionRate,
		Impressions:    totals.Impressions,
		Views:          totals.Views,
		Conversions:    totals.Conversions,
		Declines:       totals.Declines,
	}, nil
}

// OfferSeries returns the daily rows and raw events of one offer over the
// last days days, newest first.
func (r *Recorder) OfferSeries(ctx context.Context, shop, offerID string, days int) (OfferSeries, error) {
	since := r.windowStart(days)

	daily, err := r.store.ListDaily(ctx, shop, offerID, since)
	if err != nil {
		return OfferSeries{}, persistenceErr("Failed to get offer analytics", err)
	}
	evts, err := r.store.ListEvents(ctx, shop, offerID, since)
	if err != nil {
		return OfferSeries{}, persistenceErr("Failed to get offer analytics", err)
	}

	if daily == nil {
		daily = []models.DailyAnalytics{}
	}
	if evts == nil {
		evts = []models.OfferEvent{}
	}
	return OfferSeries{Analytics: daily, Events: evts}, nil
}

// RepairConversionRates recomputes every stored rate of shop (all shops
// when shop is empty) from its counters and returns how many rows changed.
func (r *Recorder) RepairConversionRates(ctx context.Context, shop string) (int, error) {
	rows, err := r.store.AllDaily(ctx, shop)
	if err != nil {
		return 0, persistenceErr("Failed to load daily analytics", err)
	}

	changed := make(map[string]float64)
	for _, row := range rows {
		rate := ConversionRate(row.Conversions, row.Views, row.Declines)
		if math.Abs(rate-row.ConversionRate) > 1e-9 {
			changed[row.ID] = rate
		}
	}

	if err := r.store.SetConversionRates(ctx, changed, r.now().UTC()); err != nil {
		return 0, persistenceErr("Failed to repair conversion rates", err)
	}

	if len(changed) > 0 {
		r.log.InfoContext(ctx, "conversion rates repaired",
			slog.String("shop", shop),
			slog.Int("rows", len(changed)))
	}
	return len(changed), nil
}

func (r *Recorder) windowStart(days int) time.Time {
	if days <= 0 {
		days = DefaultWindowDays
	}
	return r.now().UTC().AddDate(0, 0, -days)
}

func persistenceErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(msg, err)
	}
	return apperr.Persistence(msg, err)
}
