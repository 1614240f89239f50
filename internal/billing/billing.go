package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/vidstream/vidstream/internal/plans"
)

// Client wraps the Stripe API calls the platform makes and maps plan slugs
// to Stripe price IDs.
type Client struct {
	api    *client.API
	prices map[string]string
}

// New returns a Stripe client. A nil backends uses the live Stripe API.
func New(secretKey string, prices map[string]string, backends *stripe.Backends) *Client {
	api := &client.API{}
	api.Init(secretKey, backends)
	p := make(map[string]string, len(prices))
	for slug, id := range prices {
		if id != "" {
			p[slug] = id
		}
	}
	return &Client{api: api, prices: p}
}

func (c *Client) PriceID(plan string) (string, bool) {
	id, ok := c.prices[plan]
	return id, ok
}

// PlanForPrice returns the plan slug sold under priceID, or "" if unknown.
func (c *Client) PlanForPrice(priceID string) string {
	for slug, id := range c.prices {
		if id == priceID {
			return slug
		}
	}
	return ""
}

type CheckoutInput struct {
	UserID     string
	Email      string
	CustomerID string
	Plan       string
	SuccessURL string
	CancelURL  string
}

func (c *Client) CreateCheckout(ctx context.Context, in CheckoutInput) (string, error) {
	priceID, ok := c.PriceID(in.Plan)
	if !ok {
		return "", fmt.Errorf("no stripe price configured for plan %q", in.Plan)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": in.UserID, "plan": in.Plan},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", in.UserID)
	params.AddMetadata("plan", in.Plan)
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (c *Client) CreatePortal(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// CancelAtPeriodEnd keeps the subscription running until the paid period
// ends and then lets Stripe cancel it.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

// PlanForSubscription resolves the plan a subscription is billed under,
// preferring the price of its first item over metadata.
func (c *Client) PlanForSubscription(sub *stripe.Subscription) string {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			if slug := c.PlanForPrice(item.Price.ID); slug != "" {
				return slug
			}
		}
	}
	if slug := sub.Metadata["plan"]; slug != "" {
		if p, ok := plans.Get(slug); ok && p.Paid() {
			return slug
		}
	}
	return ""
}
