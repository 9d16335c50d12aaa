package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OfferStatus is the lifecycle state of an offer.
type OfferStatus string

const (
	StatusActive OfferStatus = "active"
	StatusPaused OfferStatus = "paused"
	StatusDraft  OfferStatus = "draft"
)

// Valid reports whether s is a known status.
func (s OfferStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusDraft:
		return true
	}
	return false
}

// DiscountType selects how DiscountValue is applied.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// ProductRole tells whether a product row triggers an offer or is offered by it.
type ProductRole string

const (
	RoleTrigger ProductRole = "trigger"
	RoleTarget  ProductRole = "target"
)

// Offer is a configured post-purchase upsell.
type Offer struct {
	ID               string          `json:"id"`
	Shop             string          `json:"shop"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Status           OfferStatus     `json:"status"`
	DiscountType     DiscountType    `json:"discount_type"`
	DiscountValue    decimal.Decimal `json:"discount_value"`
	OfferTitle       string          `json:"offer_title"`
	OfferDescription string          `json:"offer_description"`
	ButtonText       string          `json:"button_text"`
	LimitPerCustomer int             `json:"limit_per_customer"`
	TotalLimit       *int            `json:"total_limit"`
	ExpiryDate       *time.Time      `json:"expiry_date"`
	ScheduleStart    *time.Time      `json:"schedule_start"`
	EnableABTest     bool            `json:"enable_ab_test"`
	TriggerProducts  []OfferProduct  `json:"trigger_products"`
	TargetProducts   []OfferProduct  `json:"target_products"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// EligibleAt reports whether the offer's status and time window allow it
// to be shown at now.
func (o Offer) EligibleAt(now time.Time) bool {
	if o.Status != StatusActive {
		return false
	}
	if o.ExpiryDate != nil && o.ExpiryDate.Before(now) {
		return false
	}
	if o.ScheduleStart != nil && o.ScheduleStart.After(now) {
		return false
	}
	return true
}

// OfferProduct is a denormalized product snapshot attached to an offer.
// Ids are kept in both numeric and global form.
type OfferProduct struct {
	ID            string           `json:"id"`
	OfferID       string           `json:"offer_id"`
	Role          ProductRole      `json:"role"`
	ProductID     string           `json:"product_id"`
	ProductGID    string           `json:"product_gid"`
	VariantID     string           `json:"variant_id,omitempty"`
	VariantGID    string           `json:"variant_gid,omitempty"`
	ProductTitle  string           `json:"product_title"`
	VariantTitle  string           `json:"variant_title,omitempty"`
	ProductPrice  decimal.Decimal  `json:"product_price"`
	VariantPrice  *decimal.Decimal `json:"variant_price,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
	VariantsCount int              `json:"variants_count"`
}

// PurchasedItem is one line item of a completed order.
type PurchasedItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
}

// Subscription is a shop's plan record.
type Subscription struct {
	Shop                  string          `json:"shop"`
	PlanID                string          `json:"plan_id"`
	PlanName              string          `json:"plan_name"`
	PlanPrice             decimal.Decimal `json:"plan_price"`
	MaxActiveOffers       int64           `json:"max_active_offers"`
	MaxImpressionsMonthly int64           `json:"max_impressions_monthly"`
	IsActive              bool            `json:"is_active"`
	Status                string          `json:"status,omitempty"`
	BillingID             string          `json:"billing_subscription_id,omitempty"`
	ChargeID              string          `json:"charge_id,omitempty"`
	StartedAt             *time.Time      `json:"started_at"`
	ExpiresAt             *time.Time      `json:"expires_at"`
}

// EventType is a funnel event kind.
type EventType string

const (
	EventImpression EventType = "impression"
	EventView       EventType = "view"
	EventAccept     EventType = "accept"
	EventDecline    EventType = "decline"
)

// OfferEvent is an append-only funnel event.
type OfferEvent struct {
	ID             string          `json:"id"`
	Shop           string          `json:"shop"`
	OfferID        string          `json:"offer_id"`
	EventType      EventType       `json:"event_type"`
	CustomerID     string          `json:"customer_id,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	ProductID      string          `json:"product_id,omitempty"`
	VariantID      string          `json:"variant_id,omitempty"`
	RevenueAmount  decimal.Decimal `json:"revenue_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	SessionID      string          `json:"session_id,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	IPAddress      string          `json:"ip_address,omitempty"`
	Referrer       string          `json:"referrer,omitempty"`
	EventData      json.RawMessage `json:"event_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DailyAnalytics is the per-offer, per-day funnel rollup.
type DailyAnalytics struct {
	ID             string          `json:"id"`
	Shop           string          `json:"shop"`
	OfferID        string          `json:"offer_id"`
	Date           time.Time       `json:"date"`
	Impressions    int64           `json:"impressions"`
	Views          int64           `json:"views"`
	Conversions    int64           `json:"conversions"`
	Declines       int64           `json:"declines"`
	Revenue        decimal.Decimal `json:"revenue"`
	ConversionRate float64         `json:"conversion_rate"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
