package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.EventRecorded("impression")
	m.EventRecorded("impression")
	m.EventRecorded("accept")
	m.QuotaDenied("show_offer")
	m.BillingCall("active_subscriptions", nil)
	m.BillingCall("active_subscriptions", errors.New("boom"))
	m.CacheLookup(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsRecorded.WithLabelValues("impression")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsRecorded.WithLabelValues("accept")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaDenials.WithLabelValues("show_offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.billingCalls.WithLabelValues("active_subscriptions", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventRecorded("view")
		m.EventFailed("aggregate")
		m.OffersResolved(3)
		m.QuotaDenied("create_offer")
		m.BillingCall("cancel", nil)
		m.CacheLookup(false)
		m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodPost, "/api/offer", http.StatusOK, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "postpurchase_http_request_duration_seconds")
}
