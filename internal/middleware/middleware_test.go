package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpurchase-api/internal/metrics"
)

func TestRateLimiter_AllowAndRefill(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, remaining := rl.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.False(t, ok)

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "keys are limited independently")

	now = now.Add(time.Minute)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)

	rl.Stop()
	rl.Stop()
}

func TestGetClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/offer", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", GetClientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set(ShopDomainHeader, "Demo.myshopify.com")
	assert.Equal(t, "203.0.113.9|demo.myshopify.com", GetClientKey(r))
}

func TestRateLimitMiddleware_Headers(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Stop()

	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"status":429,"message":"Rate limit exceeded"}`, rec.Body.String())
}

type tokenRecorder struct {
	shop, token string
	err         error
}

func (t *tokenRecorder) SaveShopToken(_ context.Context, shop, token string, _ time.Time) error {
	t.shop, t.token = shop, token
	return t.err
}

func TestShopSession(t *testing.T) {
	tokens := &tokenRecorder{}
	var gotShop string
	h := ShopSession(tokens, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotShop, _ = ShopFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/offers", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/offers", nil)
	req.Header.Set(ShopDomainHeader, " Demo.MyShopify.com ")
	req.Header.Set(AccessTokenHeader, "shpat_123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "demo.myshopify.com", gotShop)
	assert.Equal(t, "demo.myshopify.com", tokens.shop)
	assert.Equal(t, "shpat_123", tokens.token)
}

func TestShopSession_TokenFailureIsNotFatal(t *testing.T) {
	h := ShopSession(&tokenRecorder{err: errors.New("locked")}, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/offers", nil)
	req.Header.Set(ShopDomainHeader, "demo.myshopify.com")
	req.Header.Set(AccessTokenHeader, "shpat_123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestLoggerAndTracing_UseRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(RequestLogger(log, m))
	r.Use(TracingMiddleware("test"))
	r.Get("/admin/offers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/offers/abc", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, buf.String(), `"route":"/admin/offers/{id}"`)
	assert.Contains(t, buf.String(), `"status":404`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}
