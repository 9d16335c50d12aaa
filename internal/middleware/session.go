package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"postpurchase-api/internal/validation"
)

const (
	// ShopDomainHeader names the shop of an admin request.
	ShopDomainHeader = "X-Shopify-Shop-Domain"
	// AccessTokenHeader carries the shop's offline admin access token.
	AccessTokenHeader = "X-Shopify-Access-Token"
)

type shopKey struct{}

// TokenSaver stores a shop's offline access token.
type TokenSaver interface {
	SaveShopToken(ctx context.Context, shop, token string, now time.Time) error
}

// ShopSession requires a valid shop domain header on admin requests and
// puts the normalized shop in the request context. An access token sent
// along is stored for later billing calls.
func ShopSession(tokens TokenSaver, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			shop := validation.NormalizeShopDomain(r.Header.Get(ShopDomainHeader))
			if err := validation.ValidateShopDomain(shop); err != nil {
				writeError(w, http.StatusUnauthorized, "Missing or invalid "+ShopDomainHeader+" header")
				return
			}

			if token := strings.TrimSpace(r.Header.Get(AccessTokenHeader)); token != "" && tokens != nil {
				if err := tokens.SaveShopToken(r.Context(), shop, token, time.Now()); err != nil {
					log.WarnContext(r.Context(), "failed to store shop session",
						slog.String("shop", shop), slog.String("error", err.Error()))
				}
			}

			next.ServeHTTP(w, r.WithContext(WithShop(r.Context(), shop)))
		})
	}
}

// WithShop returns ctx carrying shop.
func WithShop(ctx context.Context, shop string) context.Context {
	return context.WithValue(ctx, shopKey{}, shop)
}

// ShopFromContext returns the shop set by ShopSession.
func ShopFromContext(ctx context.Context) (string, bool) {
	shop, ok := ctx.Value(shopKey{}).(string)
	return shop, ok && shop != ""
}
