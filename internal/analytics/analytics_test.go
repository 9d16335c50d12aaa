package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/database"
	"postpurchase-api/internal/events"
	"postpurchase-api/internal/models"
)

const testShop = "demo.myshopify.com"

var fixedNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

func setupRecorder(t *testing.T, opts ...Option) (*Recorder, *database.DB) {
	t.Helper()
	db, err := database.NewDB(context.Background(), filepath.Join(t.TempDir(), "test.db"), database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewRecorder(db, opts...), db
}

func createOffer(t *testing.T, db *database.DB, status models.OfferStatus) string {
	t.Helper()
	offer := models.Offer{
		ID:               uuid.New().String(),
		Shop:             testShop,
		Name:             "Upsell",
		Status:           status,
		DiscountType:     models.DiscountPercentage,
		DiscountValue:    decimal.NewFromInt(10),
		LimitPerCustomer: 1,
		CreatedAt:        fixedNow,
		UpdatedAt:        fixedNow,
	}
	require.NoError(t, db.CreateOffer(context.Background(), offer))
	return offer.ID
}

func TestConversionRate(t *testing.T) {
	assert.Equal(t, 0.0, ConversionRate(0, 0, 0))
	assert.Equal(t, 100.0, ConversionRate(1, 0, 0))
	assert.Equal(t, 50.0, ConversionRate(1, 1, 0))
	assert.InDelta(t, 33.333, ConversionRate(1, 1, 1), 0.001)
	assert.Equal(t, 0.0, ConversionRate(0, 0, 5))
}

func TestRecordEvent_CountersAndRate(t *testing.T) {
	r, db := setupRecorder(t)
	ctx := context.Background()
	offerID := createOffer(t, db, models.StatusActive)

	for _, et := range []models.EventType{models.EventImpression, models.EventView, models.EventView, models.EventDecline} {
		_, err := r.RecordEvent(ctx, testShop, offerID, et, EventContext{})
		require.NoError(t, err)
	}
	event, err := r.RecordEvent(ctx, testShop, offerID, models.EventAccept, EventContext{
		RevenueAmount: decimal.RequireFromString("24.50"),
		OrderID:       "1001",
	})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, event.CreatedAt)

	row, err := db.GetDaily(ctx, testShop, offerID, database.DayBucket(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Impressions)
	assert.Equal(t, int64(2), row.Views)
	assert.Equal(t, int64(1), row.Declines)
	assert.Equal(t, int64(1), row.Conversions)
	assert.True(t, decimal.RequireFromString("24.50").Equal(row.Revenue))
	assert.InDelta(t, 25.0, row.ConversionRate, 1e-9)
}

func TestRecordEvent_DeclineCreatesRowWithZeroRate(t *testing.T) {
	r, db := setupRecorder(t)
	ctx := context.Background()
	offerID := createOffer(t, db, models.StatusActive)

	_, err := r.RecordEvent(ctx, testShop, offerID, models.EventDecline, EventContext{})
	require.NoError(t, err)

	row, err := db.GetDaily(ctx, testShop, offerID, database.DayBucket(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Declines)
	assert.Equal(t, 0.0, row.ConversionRate)
}

func TestRecordEvent_UnknownTypeKeepsCounters(t *testing.T) {
	r, db := setupRecorder(t)
	ctx := context.Background()
	offerID := createOffer(t, db, models.StatusActive)

	_, err := r.RecordEvent(ctx, testShop, offerID, models.EventType("hover"), EventContext{})
	require.NoError(t, err)

	row, err := db.GetDaily(ctx, testShop, offerID, database.DayBucket(fixedNow))
	require.NoError(t, err)
	assert.Zero(t, row.Impressions+row.Views+row.Conversions+row.Declines)
}

func TestRecordEvent_ConcurrentAcceptsAreAllCounted(t *testing.T) {
	r, db := setupRecorder(t)
	ctx := context.Background()
	offerID := createOffer(t, db, models.StatusActive)

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.RecordEvent(ctx, testShop, offerID, models.EventAccept, EventContext{RevenueAmount: decimal.NewFromInt(2)})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	row, err := db.GetDaily(ctx, testShop, offerID, database.DayBucket(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, int64(n), row.Conversions)
	assert.True(t, decimal.NewFromInt(2*n).Equal(row.Revenue))
	assert.Equal(t, 100.0, row.ConversionRate)
}

func TestRecordEvent_PublishesOnBus(t *testing.T) {
	bus := events.NewManager(true, nil)
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventFunnelRecorded, func(ctx context.Context, e events.Event) error {
		got <- e
		return nil
	})

	r, db := setupRecorder(t, WithEventBus(bus))
	offerID := createOffer(t, db, models.StatusActive)

	_, err := r.RecordEvent(context.Background(), testShop, offerID, models.EventView, EventContext{})
	require.NoError(t, err)
	bus.Wait()

	e := <-got
	assert.Equal(t, offerID, e.Data.(events.FunnelRecordedData).Event.OfferID)
}

type failingAggregates struct {
	*database.DB
}

func (f failingAggregates) IncrementDaily(context.Context, string, string, string, database.DailyDelta, time.Time) error {
	return errors.New("disk full")
}

func TestRecordEvent_AggregateFailureIsPartial(t *testing.T) {
	_, db := setupRecorder(t)
	offerID := createOffer(t, db, models.StatusActive)
	r := NewRecorder(failingAggregates{db}, WithClock(func() time.Time { return fixedNow }))

	event, err := r.RecordEvent(context.Background(), testShop, offerID, models.EventImpression, EventContext{})
	require.Error(t, err)
	assert.True(t, apperr.IsPartial(err))
	assert.Equal(t, offerID, event.OfferID)

	stored, err := db.ListEvents(context.Background(), testShop, offerID, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, event.ID, stored[0].ID)
}

func TestRecordEvent_MissingOfferIsNotFound(t *testing.T) {
	r, _ := setupRecorder(t)
	_, err := r.RecordEvent(context.Background(), testShop, uuid.New().String(), models.EventView, EventContext{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.False(t, apperr.IsPartial(err))
}

func TestCheckImpressionLimits(t *testing.T) {
	r, db := setupRecorder(t)
	ctx := context.Background()
	offerID := createOffer(t, db, models.StatusActive)

	require.NoError(t, db.IncrementDaily(ctx, testShop, offerID, database.DayBucket(fixedNow), database.DailyDelta{Impressions: 98}, fixedNow))
	lastMonth := fixedNow.AddDate(0, -1, 0)
	require.NoError(t, db.IncrementDaily(ctx, testShop, offerID, database.DayBucket(lastMonth), database.DailyDelta{Impressions: 500}, lastMonth))

	limits, err := r.CheckImpressionLimits(ctx, testShop, 100)
	require.NoError(t, err)
	assert.Equal(t, ImpressionLimits{TotalImpressions: 98, MaxImpressions: 100, RemainingImpressions: 2}, limits)

	require.NoError(t, db.IncrementDaily(ctx, testShop, offerID, database.DayBucket(fixedNow), database.DailyDelta{Impressions: 5}, fixedNow))
	limits, err = r.CheckImpressionLimits(ctx, testShop, 100)
	require.NoError(t, err)
	assert.True(t, limits.LimitReached)
	assert.Equal(t, int64(0), limits.RemainingImpressions)
}

func TestDashboard_CountsEveryOffer(t *testing.T) {
	r, db := setupRecorder(t)
	ctx := context.Background()
	active := createOffer(t, db, models.StatusActive)
	createOffer(t, db, models.StatusPaused)

	_, err := r.RecordEvent(ctx, testShop, active, models.EventAccept, EventContext{RevenueAmount: decimal.RequireFromString("10.00")})
	require.NoError(t, err)

	d, err := r.Dashboard(ctx, testShop, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.TotalOffers)
	assert.Equal(t, int64(1), d.ActiveOffers)
	assert.Equal(t, int64(1), d.Conversions)
	assert.True(t, decimal.NewFromInt(10).Equal(d.TotalRevenue))
}

func TestOfferSeries_EmptyIsNotNil(t *testing.T) {
	r, db := setupRecorder(t)
	offerID := createOffer(t, db, models.StatusActive)

	series, err := r.OfferSeries(context.Background(), testShop, offerID, 7)
	require.NoError(t, err)
	assert.NotNil(t, series.Analytics)
	assert.NotNil(t, series.Events)
}

func TestRepairConversionRates(t *testing.T) {
	r, db := setupRecorder(t)
	ctx := context.Background()
	offerID := createOffer(t, db, models.StatusActive)
	day := database.DayBucket(fixedNow)

	require.NoError(t, db.IncrementDaily(ctx, testShop, offerID, day, database.DailyDelta{Views: 3, Conversions: 1}, fixedNow))

	n, err := r.RepairConversionRates(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := db.GetDaily(ctx, testShop, offerID, day)
	require.NoError(t, err)
	assert.Equal(t, 25.0, row.ConversionRate)

	n, err = r.RepairConversionRates(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
