package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"postpurchase-api/internal/models"
)

var (
	uuidRegex       = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	shopDomainRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(\.[a-z0-9-]+)+$`)
	maxPercentage   = decimal.NewFromInt(100)
)

const (
	maxNameLength      = 255
	maxCopyLength      = 2000
	maxProductsPerRole = 100
	maxPurchasedItems  = 250
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateOffer checks an offer submitted from the admin editor. Defaults
// must already be applied.
func ValidateOffer(offer models.Offer) error {
	if err := ValidateShopDomain(offer.Shop); err != nil {
		return err
	}

	if offer.Name == "" {
		return &ValidationError{
			Field:   "name",
			Message: "is required",
		}
	}

	if len(offer.Name) > maxNameLength {
		return &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("cannot exceed %d characters", maxNameLength),
		}
	}

	if len(offer.Description) > maxCopyLength || len(offer.OfferDescription) > maxCopyLength {
		return &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("cannot exceed %d characters", maxCopyLength),
		}
	}

	if !offer.Status.Valid() {
		return &ValidationError{
			Field:   "status",
			Message: "must be 'active', 'paused', or 'draft'",
		}
	}

	switch offer.DiscountType {
	case models.DiscountPercentage:
		if offer.DiscountValue.GreaterThan(maxPercentage) {
			return &ValidationError{
				Field:   "discount_value",
				Message: "percentage discount cannot exceed 100",
			}
		}
	case models.DiscountFixed:
	default:
		return &ValidationError{
			Field:   "discount_type",
			Message: "must be 'percentage' or 'fixed'",
		}
	}

	if offer.DiscountValue.IsNegative() {
		return &ValidationError{
			Field:   "discount_value",
			Message: "must be non-negative",
		}
	}

	if offer.LimitPerCustomer < 1 {
		return &ValidationError{
			Field:   "limit_per_customer",
			Message: "must be at least 1",
		}
	}

	if offer.TotalLimit != nil && *offer.TotalLimit < 1 {
		return &ValidationError{
			Field:   "total_limit",
			Message: "must be at least 1 when set",
		}
	}

	if offer.ExpiryDate != nil && offer.ScheduleStart != nil && !offer.ScheduleStart.Before(*offer.ExpiryDate) {
		return &ValidationError{
			Field:   "schedule_start",
			Message: "must be before expiry_date",
		}
	}

	if err := validateProducts("trigger_products", offer.TriggerProducts); err != nil {
		return err
	}

	return validateProducts("target_products", offer.TargetProducts)
}

func validateProducts(field string, products []models.OfferProduct) error {
	if len(products) > maxProductsPerRole {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("cannot contain more than %d products", maxProductsPerRole),
		}
	}

	for i, p := range products {
		if p.ProductID == "" && p.ProductGID == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("%s[%d].product_id", field, i),
				Message: "is required",
			}
		}
		if p.ProductPrice.IsNegative() {
			return &ValidationError{
				Field:   fmt.Sprintf("%s[%d].product_price", field, i),
				Message: "must be non-negative",
			}
		}
	}

	return nil
}

// ValidatePurchasedItems checks the line items of a post-purchase request.
// The list must be present; an empty list is valid and matches nothing.
func ValidatePurchasedItems(items []models.PurchasedItem) error {
	if items == nil {
		return &ValidationError{
			Field:   "purchasedProducts",
			Message: "is required",
		}
	}

	if len(items) > maxPurchasedItems {
		return &ValidationError{
			Field:   "purchasedProducts",
			Message: fmt.Sprintf("cannot contain more than %d items", maxPurchasedItems),
		}
	}

	for i, item := range items {
		if item.ProductID == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("purchasedProducts[%d].productId", i),
				Message: "is required",
			}
		}
	}

	return nil
}

// ValidateEvent checks the required fields of a funnel event.
func ValidateEvent(event models.OfferEvent) error {
	if err := ValidateShopDomain(event.Shop); err != nil {
		return err
	}

	if event.OfferID == "" {
		return &ValidationError{
			Field:   "offerId",
			Message: "is required",
		}
	}

	if event.EventType == "" {
		return &ValidationError{
			Field:   "eventType",
			Message: "is required",
		}
	}

	if event.RevenueAmount.IsNegative() || event.DiscountAmount.IsNegative() {
		return &ValidationError{
			Field:   "revenueAmount",
			Message: "amounts must be non-negative",
		}
	}

	return nil
}

// ValidateShopDomain requires a lowercase hostname such as
// "demo.myshopify.com".
func ValidateShopDomain(shop string) error {
	if shop == "" {
		return &ValidationError{
			Field:   "shopDomain",
			Message: "is required",
		}
	}

	if !shopDomainRegex.MatchString(strings.ToLower(shop)) {
		return &ValidationError{
			Field:   "shopDomain",
			Message: "must be a valid shop domain",
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// NormalizeShopDomain sanitizes and lowercases a shop domain.
func NormalizeShopDomain(shop string) string {
	return strings.ToLower(SanitizeString(shop))
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}
