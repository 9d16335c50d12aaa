package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"postpurchase-api/internal/models"
)

func validOffer() models.Offer {
	return models.Offer{
		Shop:             "demo.myshopify.com",
		Name:             "Socks with shoes",
		Status:           models.StatusActive,
		DiscountType:     models.DiscountPercentage,
		DiscountValue:    decimal.NewFromInt(15),
		ButtonText:       "Add to Order",
		LimitPerCustomer: 1,
		TriggerProducts: []models.OfferProduct{
			{ProductID: "123", ProductGID: "gid://shopify/Product/123"},
		},
	}
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	return ve.Field
}

func TestValidateOffer_Valid(t *testing.T) {
	if err := ValidateOffer(validOffer()); err != nil {
		t.Errorf("Expected valid offer, got %v", err)
	}
}

func TestValidateOffer_Invalid(t *testing.T) {
	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := past.Add(time.Hour)
	zero := 0

	tests := []struct {
		name   string
		mutate func(*models.Offer)
		field  string
	}{
		{"missing shop", func(o *models.Offer) { o.Shop = "" }, "shopDomain"},
		{"missing name", func(o *models.Offer) { o.Name = "" }, "name"},
		{"bad status", func(o *models.Offer) { o.Status = "archived" }, "status"},
		{"bad discount type", func(o *models.Offer) { o.DiscountType = "bogo" }, "discount_type"},
		{"percentage over 100", func(o *models.Offer) { o.DiscountValue = decimal.NewFromInt(101) }, "discount_value"},
		{"negative fixed", func(o *models.Offer) {
			o.DiscountType = models.DiscountFixed
			o.DiscountValue = decimal.NewFromInt(-1)
		}, "discount_value"},
		{"limit per customer", func(o *models.Offer) { o.LimitPerCustomer = 0 }, "limit_per_customer"},
		{"total limit", func(o *models.Offer) { o.TotalLimit = &zero }, "total_limit"},
		{"schedule after expiry", func(o *models.Offer) {
			o.ScheduleStart = &later
			o.ExpiryDate = &past
		}, "schedule_start"},
		{"trigger without id", func(o *models.Offer) {
			o.TriggerProducts = []models.OfferProduct{{ProductTitle: "x"}}
		}, "trigger_products[0].product_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := validOffer()
			tt.mutate(&offer)
			err := ValidateOffer(offer)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if got := fieldOf(t, err); got != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, got)
			}
		})
	}
}

func TestValidatePurchasedItems(t *testing.T) {
	if err := ValidatePurchasedItems(nil); err == nil {
		t.Error("Expected error for missing items")
	}
	if err := ValidatePurchasedItems([]models.PurchasedItem{}); err != nil {
		t.Errorf("Expected empty items to be valid, got %v", err)
	}
	if err := ValidatePurchasedItems([]models.PurchasedItem{{VariantID: "1"}}); err == nil {
		t.Error("Expected error for item without productId")
	}
	if err := ValidatePurchasedItems([]models.PurchasedItem{{ProductID: "1"}}); err != nil {
		t.Errorf("Expected valid items, got %v", err)
	}
}

func TestValidateEvent(t *testing.T) {
	event := models.OfferEvent{Shop: "demo.myshopify.com", OfferID: "o1", EventType: models.EventDecline}
	if err := ValidateEvent(event); err != nil {
		t.Errorf("Expected valid event, got %v", err)
	}

	event.OfferID = ""
	if got := fieldOf(t, ValidateEvent(event)); got != "offerId" {
		t.Errorf("Expected offerId, got %s", got)
	}
}

func TestValidateShopDomain(t *testing.T) {
	valid := []string{"demo.myshopify.com", "my-store.example.co.uk"}
	for _, shop := range valid {
		if err := ValidateShopDomain(shop); err != nil {
			t.Errorf("Expected %q valid, got %v", shop, err)
		}
	}
	invalid := []string{"", "localhost", "bad domain.com", "-x.com"}
	for _, shop := range invalid {
		if err := ValidateShopDomain(shop); err == nil {
			t.Errorf("Expected %q invalid", shop)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  ab\x00c\n "); got != "abc" {
		t.Errorf("Expected 'abc', got %q", got)
	}
	if got := NormalizeShopDomain(" Demo.MyShopify.com "); got != "demo.myshopify.com" {
		t.Errorf("Expected lowercase domain, got %q", got)
	}
}
