// Package eligibility resolves which offers a completed order makes
// eligible.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"postpurchase-api/internal/gid"
	"postpurchase-api/internal/models"
)

// OfferFinder returns candidate offers of a shop for one purchased product.
// Candidates may over-match; the resolver confirms each one.
type OfferFinder interface {
	FindEligibleOffers(ctx context.Context, shop, productID string, now time.Time) ([]models.Offer, error)
}

const defaultFanOut = 8

// Resolver unions eligible offers across purchased items.
type Resolver struct {
	finder     OfferFinder
	concurrent func() bool
	fanOut     int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConcurrency issues per-item lookups in parallel, at most limit at a
// time, whenever enabled returns true.
func WithConcurrency(enabled func() bool, limit int) Option {
	return func(r *Resolver) {
		r.concurrent = enabled
		if limit > 0 {
			r.fanOut = limit
		}
	}
}

func NewResolver(finder OfferFinder, opts ...Option) *Resolver {
	r := &Resolver{
		finder:     finder,
		concurrent: func() bool { return false },
		fanOut:     defaultFanOut,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveEligibleOffers returns the offers of shop eligible at now for any
// of items. Results keep purchased-item order and each offer appears once,
// at its first occurrence. No items or no matches yield an empty slice.
func (r *Resolver) ResolveEligibleOffers(ctx context.Context, shop string, items []models.PurchasedItem, now time.Time) ([]models.Offer, error) {
	perItem := make([][]models.Offer, len(items))

	if r.concurrent() && len(items) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.fanOut)
		for i, item := range items {
			g.Go(func() error {
				offers, err := r.resolveItem(gctx, shop, item, now)
				if err != nil {
					return err
				}
				perItem[i] = offers
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, item := range items {
			offers, err := r.resolveItem(ctx, shop, item, now)
			if err != nil {
				return nil, err
			}
			perItem[i] = offers
		}
	}

	seen := make(map[string]struct{})
	out := []models.Offer{}
	for _, offers := range perItem {
		for _, o := range offers {
			if _, dup := seen[o.ID]; dup {
				continue
			}
			seen[o.ID] = struct{}{}
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *Resolver) resolveItem(ctx context.Context, shop string, item models.PurchasedItem, now time.Time) ([]models.Offer, error) {
	candidates, err := r.finder.FindEligibleOffers(ctx, shop, item.ProductID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find offers for product %s: %w", item.ProductID, err)
	}

	var matched []models.Offer
	for _, o := range candidates {
		if o.Shop == shop && o.EligibleAt(now) && TriggeredBy(o, item) {
			matched = append(matched, o)
		}
	}
	return matched, nil
}

// TriggeredBy reports whether one of the offer's trigger rows matches item.
// A trigger that names a variant only matches that variant.
func TriggeredBy(o models.Offer, item models.PurchasedItem) bool {
	for _, t := range o.TriggerProducts {
		if !gid.MatchesProductRef(t.ProductID, item.ProductID) && !gid.MatchesProductRef(t.ProductGID, item.ProductID) {
			continue
		}
		if t.VariantID == "" && t.VariantGID == "" {
			return true
		}
		if gid.MatchesProductRef(t.VariantID, item.VariantID) || gid.MatchesProductRef(t.VariantGID, item.VariantID) {
			return true
		}
	}
	return false
}
