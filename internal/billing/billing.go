// Package billing talks to the Shopify Admin GraphQL API for app
// subscription state.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/plans"
)

const (
	defaultAPIVersion = "2024-10"
	defaultTimeout    = 10 * time.Second
	maxResponseBytes  = 1 << 20
)

// ErrNoToken is returned when no access token is stored for the shop.
var ErrNoToken = errors.New("billing: no access token for shop")

// TokenSource resolves the offline admin access token of a shop. An empty
// token with a nil error means none is stored.
type TokenSource interface {
	ShopToken(ctx context.Context, shop string) (string, error)
}

// Config configures the client.
type Config struct {
	// BaseURL is the admin origin. "{shop}" is replaced by the shop domain.
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	// Test creates test charges.
	Test bool
	// ReturnURL is where the merchant lands after approving a charge.
	// "{store}" is replaced by the shop handle.
	ReturnURL string
	Currency  string
}

// ActiveSubscription is one entry of currentAppInstallation.activeSubscriptions.
type ActiveSubscription struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Test      bool   `json:"test"`
	TrialDays int    `json:"trialDays"`
}

// IsActive reports whether the external status is ACTIVE.
func (s ActiveSubscription) IsActive() bool {
	return strings.EqualFold(s.Status, "ACTIVE")
}

// Confirmation is the result of creating a subscription that the merchant
// still has to approve.
type Confirmation struct {
	ConfirmationURL string `json:"confirmation_url"`
	SubscriptionID  string `json:"subscription_id"`
	Status          string `json:"status"`
}

// UserError is a validation error reported by the mutation.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// Client calls the admin API on behalf of shops.
type Client struct {
	http   *http.Client
	cfg    Config
	tokens TokenSource
}

// NewClient builds a client. A nil httpClient uses a default one.
func NewClient(cfg Config, tokens TokenSource, httpClient *http.Client) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://{shop}"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient, cfg: cfg, tokens: tokens}
}

// HasToken reports whether a token is stored for shop.
func (c *Client) HasToken(ctx context.Context, shop string) (bool, error) {
	token, err := c.tokens.ShopToken(ctx, shop)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

const activeSubscriptionsQuery = `{
  currentAppInstallation {
    activeSubscriptions {
      id
      name
      status
      test
      trialDays
    }
  }
}`

// ActiveSubscriptions lists the shop's active app subscriptions.
func (c *Client) ActiveSubscriptions(ctx context.Context, shop string) ([]ActiveSubscription, error) {
	var data struct {
		CurrentAppInstallation struct {
			ActiveSubscriptions []ActiveSubscription `json:"activeSubscriptions"`
		} `json:"currentAppInstallation"`
	}
	if err := c.do(ctx, shop, activeSubscriptionsQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.CurrentAppInstallation.ActiveSubscriptions, nil
}

const createSubscriptionMutation = `mutation appSubscriptionCreate($name: String!, $returnUrl: URL!, $lineItems: [AppSubscriptionLineItemInput!]!, $test: Boolean, $trialDays: Int) {
  appSubscriptionCreate(name: $name, returnUrl: $returnUrl, lineItems: $lineItems, test: $test, trialDays: $trialDays) {
    confirmationUrl
    userErrors {
      field
      message
    }
    appSubscription {
      id
      name
      status
    }
  }
}`

// CreateSubscription starts a recurring 30-day charge for plan. The
// merchant has to approve it at the returned confirmation URL.
func (c *Client) CreateSubscription(ctx context.Context, shop string, plan plans.Plan, returnURL string) (Confirmation, error) {
	if plan.ID == plans.Free || plan.CustomPricing {
		return Confirmation{}, apperr.Validation(fmt.Sprintf("plan %q cannot be purchased through billing", plan.ID))
	}

	variables := map[string]any{
		"name":      plan.Name,
		"returnUrl": returnURL,
		"lineItems": []map[string]any{{
			"plan": map[string]any{
				"appRecurringPricingDetails": map[string]any{
					"interval": "EVERY_30_DAYS",
					"price": map[string]any{
						"amount":       plan.Price.StringFixed(2),
						"currencyCode": c.cfg.Currency,
					},
				},
			},
		}},
		"test":      c.cfg.Test,
		"trialDays": plan.TrialDays,
	}

	var data struct {
		AppSubscriptionCreate struct {
			ConfirmationURL string      `json:"confirmationUrl"`
			UserErrors      []UserError `json:"userErrors"`
			AppSubscription *struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"appSubscription"`
		} `json:"appSubscriptionCreate"`
	}
	if err := c.do(ctx, shop, createSubscriptionMutation, variables, &data); err != nil {
		return Confirmation{}, err
	}

	res := data.AppSubscriptionCreate
	if err := userErrors("failed to create subscription", res.UserErrors); err != nil {
		return Confirmation{}, err
	}

	out := Confirmation{ConfirmationURL: res.ConfirmationURL}
	if res.AppSubscription != nil {
		out.SubscriptionID = res.AppSubscription.ID
		out.Status = res.AppSubscription.Status
	}
	return out, nil
}

const cancelSubscriptionMutation = `mutation appSubscriptionCancel($id: ID!) {
  appSubscriptionCancel(id: $id) {
    appSubscription {
      id
      status
    }
    userErrors {
      field
      message
    }
  }
}`

// CancelSubscription cancels one app subscription by id.
func (c *Client) CancelSubscription(ctx context.Context, shop, subscriptionID string) error {
	var data struct {
		AppSubscriptionCancel struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"appSubscriptionCancel"`
	}
	err := c.do(ctx, shop, cancelSubscriptionMutation, map[string]any{"id": subscriptionID}, &data)
	if err != nil {
		return err
	}
	return userErrors("failed to cancel subscription", data.AppSubscriptionCancel.UserErrors)
}

// ReturnURL builds the post-approval landing URL for plan. The plan query
// parameters let the confirm step know what was purchased.
func (c *Client) ReturnURL(shop string, plan plans.Plan) string {
	base := strings.ReplaceAll(c.cfg.ReturnURL, "{store}", strings.TrimSuffix(shop, ".myshopify.com"))
	q := url.Values{}
	q.Set("plan", plan.ID)
	q.Set("planName", plan.Name)
	q.Set("price", plan.Price.String())

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, shop, query string, variables map[string]any, dest any) error {
	token, err := c.tokens.ShopToken(ctx, shop)
	if err != nil {
		return apperr.Persistence("failed to load shop session", err)
	}
	if token == "" {
		return apperr.ExternalService("billing unavailable for shop", ErrNoToken)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode billing request: %w", err)
	}

	endpoint := strings.ReplaceAll(c.cfg.BaseURL, "{shop}", shop) +
		"/admin/api/" + c.cfg.APIVersion + "/graphql.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build billing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperr.Timeout("billing request timed out", err)
		}
		return apperr.ExternalService("billing request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperr.Timeout("billing request timed out", err)
		}
		return apperr.ExternalService("failed to read billing response", err)
	}

	if resp.StatusCode >= 400 {
		return apperr.ExternalService("billing request failed",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var gql graphQLResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return apperr.ExternalService("invalid billing response", err)
	}
	if len(gql.Errors) > 0 {
		msgs := make([]string, 0, len(gql.Errors))
		for _, e := range gql.Errors {
			msgs = append(msgs, e.Message)
		}
		return apperr.ExternalService("billing query failed", errors.New(strings.Join(msgs, "; ")))
	}

	if err := json.Unmarshal(gql.Data, dest); err != nil {
		return apperr.ExternalService("invalid billing response", err)
	}
	return nil
}

func userErrors(msg string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if len(e.Field) > 0 {
			parts = append(parts, strings.Join(e.Field, ".")+": "+e.Message)
		} else {
			parts = append(parts, e.Message)
		}
	}
	return apperr.Rejected(msg, errors.New(strings.Join(parts, "; ")))
}
