package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/database"
	"postpurchase-api/internal/gid"
	"postpurchase-api/internal/models"
	"postpurchase-api/internal/plans"
	"postpurchase-api/internal/tracing"
	"postpurchase-api/internal/usage"
	"postpurchase-api/internal/validation"
)

// SaveResult is the outcome of SaveOffer. ToastMessage is set when the
// offer was saved paused instead of active.
type SaveResult struct {
	Offer        models.Offer `json:"offer"`
	Created      bool         `json:"created"`
	Downgraded   bool         `json:"downgraded"`
	Message      string       `json:"message"`
	ToastMessage string       `json:"toastMessage,omitempty"`
}

// SaveOffer creates offer when it has no id and fully replaces the stored
// offer otherwise. An offer saved as active while the plan's active-offer
// limit is reached is stored paused instead.
func (s *Service) SaveOffer(ctx context.Context, shop string, offer models.Offer) (res SaveResult, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.SaveOffer",
		attribute.String("shop", shop),
		attribute.String("offer_id", offer.ID))
	defer func() { tracing.End(span, err) }()

	created := offer.ID == ""
	offer.Shop = shop
	applyOfferDefaults(&offer)
	sanitizeOffer(&offer)

	if err := validation.ValidateOffer(offer); err != nil {
		return SaveResult{}, err
	}

	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	now := s.now().UTC()
	if created {
		offer.ID = uuid.New().String()
		offer.CreatedAt = now
	} else {
		existing, err := s.db.GetOffer(sctx, shop, offer.ID)
		if err != nil {
			return SaveResult{}, offerErr(err)
		}
		offer.CreatedAt = existing.CreatedAt
	}
	offer.UpdatedAt = now

	canonical, err := s.subs.GetCanonical(sctx, shop)
	if err != nil {
		return SaveResult{}, err
	}
	sub := canonical.Subscription

	if offer.EnableABTest && !plans.HasFeature(sub.PlanID, plans.FeatureABTesting) {
		offer.EnableABTest = false
	}

	downgraded := false
	if offer.Status == models.StatusActive {
		excludeID := ""
		if !created {
			excludeID = offer.ID
		}
		active, err := s.db.CountActiveOffers(sctx, shop, excludeID)
		if err != nil {
			return SaveResult{}, storeErr("Failed to count active offers", err)
		}
		if d := usage.CheckAction(usage.ActionCreateOffer, sub, usage.Usage{ActiveOffers: active}); !d.Allowed {
			offer.Status = models.StatusPaused
			downgraded = true
			s.metrics.QuotaDenied(string(usage.ActionCreateOffer))
			s.log.InfoContext(ctx, "offer saved paused at active-offer limit",
				slog.String("shop", shop),
				slog.String("offer_id", offer.ID),
				slog.Int64("active_offers", active),
				slog.Int64("max_active_offers", sub.MaxActiveOffers))
		}
	}

	if created {
		err = s.db.CreateOffer(sctx, offer)
	} else {
		err = s.db.ReplaceOffer(sctx, offer)
	}
	if err != nil {
		return SaveResult{}, offerErr(err)
	}

	saved, err := s.db.GetOffer(sctx, shop, offer.ID)
	if err != nil {
		return SaveResult{}, offerErr(err)
	}

	if s.bus != nil {
		s.bus.PublishOfferSaved(ctx, saved, created, downgraded)
	}

	res = SaveResult{Offer: saved, Created: created, Downgraded: downgraded}
	switch {
	case created && downgraded:
		res.Message = "Offer created"
		res.ToastMessage = "Offer created but set to paused due to plan limits. Upgrade to activate it."
	case downgraded:
		res.Message = "Offer updated"
		res.ToastMessage = "Offer updated but set to paused due to plan limits. Upgrade to activate it."
	case created:
		res.Message = "Offer created successfully"
	default:
		res.Message = "Offer updated successfully"
	}
	return res, nil
}

const defaultButtonText = "Add to Order"

func applyOfferDefaults(offer *models.Offer) {
	if offer.Status == "" {
		offer.Status = models.StatusActive
	}
	if offer.ButtonText == "" {
		offer.ButtonText = defaultButtonText
	}
	if offer.LimitPerCustomer == 0 {
		offer.LimitPerCustomer = 1
	}
	for _, products := range [][]models.OfferProduct{offer.TriggerProducts, offer.TargetProducts} {
		for i := range products {
			if products[i].VariantsCount == 0 {
				products[i].VariantsCount = 1
			}
		}
	}
}

// sanitizeOffer trims free text and stores product ids in both encodings.
func sanitizeOffer(offer *models.Offer) {
	offer.Name = validation.SanitizeString(offer.Name)
	offer.Description = validation.SanitizeString(offer.Description)
	offer.OfferTitle = validation.SanitizeString(offer.OfferTitle)
	offer.OfferDescription = validation.SanitizeString(offer.OfferDescription)
	offer.ButtonText = validation.SanitizeString(offer.ButtonText)

	normalize := func(products []models.OfferProduct) {
		for i := range products {
			p := &products[i]
			ref := p.ProductID
			if ref == "" {
				ref = p.ProductGID
			}
			p.ProductID = gid.ToNumericID(ref)
			p.ProductGID = gid.ToGlobalID(gid.KindProduct, ref)

			variant := p.VariantID
			if variant == "" {
				variant = p.VariantGID
			}
			p.VariantID = gid.ToNumericID(variant)
			p.VariantGID = gid.ToGlobalID(gid.KindProductVariant, variant)

			p.ProductTitle = validation.SanitizeString(p.ProductTitle)
			p.VariantTitle = validation.SanitizeString(p.VariantTitle)
		}
	}
	normalize(offer.TriggerProducts)
	normalize(offer.TargetProducts)
}

// ListOffers returns every offer of shop, newest first.
func (s *Service) ListOffers(ctx context.Context, shop string) ([]models.Offer, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	offers, err := s.db.ListOffers(sctx, shop)
	if err != nil {
		return nil, storeErr("Failed to list offers", err)
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	return offers, nil
}

// HasOffers reports whether shop has configured any offer.
func (s *Service) HasOffers(ctx context.Context, shop string) (bool, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	n, err := s.db.CountOffers(sctx, shop)
	if err != nil {
		return false, storeErr("Failed to count offers", err)
	}
	return n > 0, nil
}

// GetOffer returns one offer of shop.
func (s *Service) GetOffer(ctx context.Context, shop, id string) (models.Offer, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	offer, err := s.db.GetOffer(sctx, shop, id)
	if err != nil {
		return models.Offer{}, offerErr(err)
	}
	return offer, nil
}

// DeleteOffer removes an offer with its products. Its analytics stay.
func (s *Service) DeleteOffer(ctx context.Context, shop, id string) error {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	if err := s.db.DeleteOffer(sctx, shop, id); err != nil {
		return offerErr(err)
	}
	s.log.InfoContext(ctx, "offer deleted", slog.String("shop", shop), slog.String("offer_id", id))
	return nil
}

// UpdateOfferStatus toggles an offer's status. Plan limits are not checked
// here.
func (s *Service) UpdateOfferStatus(ctx context.Context, shop, id string, status models.OfferStatus) (models.Offer, error) {
	if !status.Valid() {
		return models.Offer{}, apperr.Validation("Invalid status. Must be 'active', 'paused', or 'draft'")
	}

	sctx, cancel := s.storageContext(ctx)
	defer cancel()

	if err := s.db.UpdateOfferStatus(sctx, shop, id, status, s.now().UTC()); err != nil {
		return models.Offer{}, offerErr(err)
	}
	offer, err := s.db.GetOffer(sctx, shop, id)
	if err != nil {
		return models.Offer{}, offerErr(err)
	}
	return offer, nil
}

func offerErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperr.NotFound("Offer not found")
	}
	return storeErr("Failed to save offer", err)
}
