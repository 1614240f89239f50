package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/metrics"
	"github.com/vidstream/vidstream/internal/plans"
)

const (
	maxWebhookBodyBytes = 64 * 1024
	maxBodyBytes        = 4 * 1024
)

var errIgnored = errors.New("event ignored")

// Mailer sends the billing lifecycle emails.
type Mailer interface {
	SendSubscriptionActivated(ctx context.Context, toEmail, toName, planName string, renewsAt time.Time) error
	SendPaymentFailed(ctx context.Context, toEmail, toName, billingURL string) error
	SendSubscriptionCanceled(ctx context.Context, toEmail, toName string) error
}

type Handlers struct {
	db            database.DBTX
	stripe        *Client
	baseURL       string
	webhookSecret string
	mailer        Mailer
}

func NewHandlers(db database.DBTX, stripeClient *Client, baseURL, webhookSecret string) *Handlers {
	return &Handlers{
		db:            db,
		stripe:        stripeClient,
		baseURL:       strings.TrimRight(baseURL, "/"),
		webhookSecret: webhookSecret,
	}
}

func (h *Handlers) SetMailer(m Mailer) {
	h.mailer = m
}

func (h *Handlers) billingURL() string {
	return h.baseURL + "/account/billing"
}

type planResponse struct {
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	PriceCents    int64    `json:"priceCents"`
	Currency      string   `json:"currency"`
	Interval      string   `json:"interval"`
	PremiumAccess bool     `json:"premiumAccess"`
	Features      []string `json:"features"`
	Available     bool     `json:"available"`
}

// Plans lists the catalogue. Paid plans without a configured Stripe price
// are reported as unavailable.
func (h *Handlers) Plans(w http.ResponseWriter, r *http.Request) {
	all := plans.All()
	resp := make([]planResponse, 0, len(all))
	for _, p := range all {
		available := !p.Paid()
		if p.Paid() && h.stripe != nil {
			_, available = h.stripe.PriceID(p.Slug)
		}
		resp = append(resp, planResponse{
			Slug:          p.Slug,
			Name:          p.Name,
			PriceCents:    p.PriceCents,
			Currency:      p.Currency,
			Interval:      p.Interval,
			PremiumAccess: p.PremiumAccess,
			Features:      p.Features,
			Available:     available,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type checkoutPlanRequest struct {
	Plan string `json:"plan"`
}

func (h *Handlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req checkoutPlanRequest
	if !httputil.DecodeJSON(w, r, &req, maxBodyBytes) {
		return
	}
	p, ok := plans.Get(req.Plan)
	if !ok || !p.Paid() {
		httputil.WriteError(w, http.StatusBadRequest, "unsupported plan")
		return
	}
	if _, ok := h.stripe.PriceID(p.Slug); !ok {
		httputil.WriteError(w, http.StatusBadRequest, "plan is not available for purchase")
		return
	}

	var email string
	var customerID *string
	err := h.db.QueryRow(r.Context(),
		"SELECT email, stripe_customer_id FROM users WHERE id = $1",
		userID,
	).Scan(&email, &customerID)
	if err != nil {
		httputil.InternalError(w, r, "billing: load customer for checkout", err, "user_id", userID)
		return
	}

	in := CheckoutInput{
		UserID:     userID,
		Email:      email,
		Plan:       p.Slug,
		SuccessURL: h.billingURL() + "?checkout=success",
		CancelURL:  h.billingURL() + "?checkout=canceled",
	}
	if customerID != nil {
		in.CustomerID = *customerID
	}
	checkoutURL, err := h.stripe.CreateCheckout(r.Context(), in)
	if err != nil {
		httputil.InternalError(w, r, "billing: create checkout", err, "user_id", userID, "plan", p.Slug)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"checkoutUrl": checkoutURL})
}

func (h *Handlers) CreatePortal(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var customerID *string
	err := h.db.QueryRow(r.Context(),
		"SELECT stripe_customer_id FROM users WHERE id = $1",
		userID,
	).Scan(&customerID)
	if err != nil {
		httputil.InternalError(w, r, "billing: load customer for portal", err, "user_id", userID)
		return
	}
	if customerID == nil {
		httputil.WriteError(w, http.StatusBadRequest, "no billing account")
		return
	}

	portalURL, err := h.stripe.CreatePortal(r.Context(), *customerID, h.billingURL())
	if err != nil {
		httputil.InternalError(w, r, "billing: create portal session", err, "user_id", userID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"portalUrl": portalURL})
}

type billingResponse struct {
	Plan              string     `json:"plan"`
	PlanName          string     `json:"planName"`
	PremiumAccess     bool       `json:"premiumAccess"`
	Status            *string    `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
}

func (h *Handlers) GetBilling(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var resp billingResponse
	var cancelAtPeriodEnd *bool
	err := h.db.QueryRow(r.Context(),
		`SELECT u.subscription_plan, s.status, s.current_period_end, s.cancel_at_period_end
		 FROM users u
		 LEFT JOIN subscriptions s ON s.user_id = u.id
		 WHERE u.id = $1`,
		userID,
	).Scan(&resp.Plan, &resp.Status, &resp.CurrentPeriodEnd, &cancelAtPeriodEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "billing: get billing info", err, "user_id", userID)
		return
	}
	resp.PlanName = plans.Name(resp.Plan)
	resp.PremiumAccess = plans.HasPremiumAccess(resp.Plan)
	resp.CancelAtPeriodEnd = cancelAtPeriodEnd != nil && *cancelAtPeriodEnd

	httputil.WriteJSON(w, http.StatusOK, resp)
}

type cancelResponse struct {
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
}

func (h *Handlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var subscriptionID string
	err := h.db.QueryRow(r.Context(),
		"SELECT stripe_subscription_id FROM subscriptions WHERE user_id = $1 AND status IN ('active', 'trialing', 'past_due')",
		userID,
	).Scan(&subscriptionID)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusBadRequest, "no active subscription")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "billing: get subscription for cancel", err, "user_id", userID)
		return
	}

	sub, err := h.stripe.CancelAtPeriodEnd(r.Context(), subscriptionID)
	if err != nil {
		httputil.InternalError(w, r, "billing: cancel subscription", err, "user_id", userID)
		return
	}

	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}
	if _, err := h.db.Exec(r.Context(),
		"UPDATE subscriptions SET cancel_at_period_end = true, current_period_end = COALESCE($1, current_period_end), updated_at = now() WHERE stripe_subscription_id = $2",
		periodEnd, subscriptionID,
	); err != nil {
		httputil.InternalError(w, r, "billing: record cancellation", err, "user_id", userID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, cancelResponse{CancelAtPeriodEnd: true, CurrentPeriodEnd: periodEnd})
}

type paymentItem struct {
	InvoiceID string    `json:"invoiceId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	page := httputil.ParsePage(r, 20, 100)

	rows, err := h.db.Query(r.Context(),
		`SELECT stripe_invoice_id, amount, currency, status, created_at
		 FROM payments WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		httputil.InternalError(w, r, "billing: list payments", err, "user_id", userID)
		return
	}
	defer rows.Close()

	items := []paymentItem{}
	for rows.Next() {
		var p paymentItem
		if err := rows.Scan(&p.InvoiceID, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt); err != nil {
			httputil.InternalError(w, r, "billing: scan payment", err)
			return
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "billing: iterate payments", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

// Webhook verifies a Stripe event, records it in billing_events so
// redeliveries are skipped, and applies it. A failed event is forgotten so
// Stripe's retry can process it again.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.BillingWebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	eventType := string(event.Type)

	tag, err := h.db.Exec(r.Context(),
		"INSERT INTO billing_events (id, type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
		event.ID, eventType,
	)
	if err != nil {
		httputil.InternalError(w, r, "billing: record webhook event", err, "event_id", event.ID)
		return
	}
	if tag.RowsAffected() == 0 {
		metrics.BillingWebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	err = h.apply(r.Context(), event)
	switch {
	case errors.Is(err, errIgnored):
		metrics.BillingWebhookEvents.WithLabelValues(eventType, "ignored").Inc()
	case err != nil:
		metrics.BillingWebhookEvents.WithLabelValues(eventType, "error").Inc()
		if _, derr := h.db.Exec(r.Context(), "DELETE FROM billing_events WHERE id = $1", event.ID); derr != nil {
			slog.Error("billing: forget failed webhook event", "event_id", event.ID, "error", derr)
		}
		httputil.InternalError(w, r, "billing: apply webhook event", err, "event_id", event.ID, "type", eventType)
		return
	default:
		metrics.BillingWebhookEvents.WithLabelValues(eventType, "processed").Inc()
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) apply(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return h.checkoutCompleted(ctx, &sess)
	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.subscriptionUpdated(ctx, &sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.subscriptionDeleted(ctx, &sub)
	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		_, err := h.recordPayment(ctx, &inv, "succeeded", inv.AmountPaid)
		return err
	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.paymentFailed(ctx, &inv)
	default:
		slog.Info("billing: unhandled webhook event", "type", event.Type, "event_id", event.ID)
		return errIgnored
	}
}

func (h *Handlers) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	userID := sess.ClientReferenceID
	if userID == "" {
		userID = sess.Metadata["user_id"]
	}
	plan := sess.Metadata["plan"]
	if userID == "" || sess.Subscription == nil || sess.Subscription.ID == "" {
		slog.Warn("billing: checkout session without user or subscription", "session_id", sess.ID)
		return errIgnored
	}
	if p, ok := plans.Get(plan); !ok || !p.Paid() {
		slog.Warn("billing: checkout session with unknown plan", "session_id", sess.ID, "plan", plan)
		return errIgnored
	}

	var customerID *string
	if sess.Customer != nil && sess.Customer.ID != "" {
		customerID = &sess.Customer.ID
	}

	tag, err := h.db.Exec(ctx,
		"UPDATE users SET stripe_customer_id = COALESCE($1, stripe_customer_id), subscription_plan = $2, updated_at = now() WHERE id = $3",
		customerID, plan, userID,
	)
	if err != nil {
		return fmt.Errorf("activate plan for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("billing: checkout for unknown user", "user_id", userID, "session_id", sess.ID)
		return errIgnored
	}

	if _, err := h.db.Exec(ctx,
		`INSERT INTO subscriptions (user_id, stripe_subscription_id, plan, status)
		 VALUES ($1, $2, $3, 'active')
		 ON CONFLICT (user_id) DO UPDATE SET
		   stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		   plan = EXCLUDED.plan,
		   status = EXCLUDED.status,
		   cancel_at_period_end = false,
		   updated_at = now()`,
		userID, sess.Subscription.ID, plan,
	); err != nil {
		return fmt.Errorf("store subscription for user %s: %w", userID, err)
	}

	h.mailUser(ctx, userID, func(email, name string) error {
		return h.mailer.SendSubscriptionActivated(ctx, email, name, plans.Name(plan), time.Time{})
	})
	return nil
}

// entitledPlan is the plan a user keeps while a subscription is in status.
// past_due keeps access while Stripe retries the charge.
func entitledPlan(status stripe.SubscriptionStatus, plan string) string {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
		return plan
	default:
		return plans.FreeSlug
	}
}

func (h *Handlers) subscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	plan := h.stripe.PlanForSubscription(sub)
	if plan == "" {
		slog.Warn("billing: subscription with unknown price", "subscription_id", sub.ID)
		return errIgnored
	}

	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	var userID string
	err := h.db.QueryRow(ctx,
		`UPDATE subscriptions
		 SET plan = $1, status = $2, current_period_end = $3, cancel_at_period_end = $4, updated_at = now()
		 WHERE stripe_subscription_id = $5
		 RETURNING user_id`,
		plan, string(sub.Status), periodEnd, sub.CancelAtPeriodEnd, sub.ID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		slog.Warn("billing: update for unknown subscription", "subscription_id", sub.ID)
		return errIgnored
	}
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}

	if _, err := h.db.Exec(ctx,
		"UPDATE users SET subscription_plan = $1, updated_at = now() WHERE id = $2",
		entitledPlan(sub.Status, plan), userID,
	); err != nil {
		return fmt.Errorf("update plan for user %s: %w", userID, err)
	}
	return nil
}

func (h *Handlers) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	var userID string
	err := h.db.QueryRow(ctx,
		`UPDATE subscriptions
		 SET status = 'canceled', cancel_at_period_end = false, updated_at = now()
		 WHERE stripe_subscription_id = $1
		 RETURNING user_id`,
		sub.ID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		slog.Warn("billing: delete for unknown subscription", "subscription_id", sub.ID)
		return errIgnored
	}
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", sub.ID, err)
	}

	if _, err := h.db.Exec(ctx,
		"UPDATE users SET subscription_plan = $1, updated_at = now() WHERE id = $2",
		plans.FreeSlug, userID,
	); err != nil {
		return fmt.Errorf("downgrade user %s: %w", userID, err)
	}

	h.mailUser(ctx, userID, func(email, name string) error {
		return h.mailer.SendSubscriptionCanceled(ctx, email, name)
	})
	return nil
}

func (h *Handlers) recordPayment(ctx context.Context, inv *stripe.Invoice, status string, amount int64) (*string, error) {
	userID, err := h.userForCustomer(ctx, inv.Customer)
	if err != nil {
		return nil, err
	}

	if _, err := h.db.Exec(ctx,
		`INSERT INTO payments (user_id, stripe_invoice_id, amount, currency, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (stripe_invoice_id) DO UPDATE SET
		   amount = EXCLUDED.amount,
		   status = EXCLUDED.status`,
		userID, inv.ID, amount, string(inv.Currency), status,
	); err != nil {
		return nil, fmt.Errorf("record payment %s: %w", inv.ID, err)
	}
	return userID, nil
}

func (h *Handlers) paymentFailed(ctx context.Context, inv *stripe.Invoice) error {
	userID, err := h.recordPayment(ctx, inv, "failed", inv.AmountDue)
	if err != nil || userID == nil {
		return err
	}
	h.mailUser(ctx, *userID, func(email, name string) error {
		return h.mailer.SendPaymentFailed(ctx, email, name, h.billingURL())
	})
	return nil
}

// userForCustomer returns nil when the Stripe customer is not linked to a
// user, which keeps the payment row without an owner.
func (h *Handlers) userForCustomer(ctx context.Context, customer *stripe.Customer) (*string, error) {
	if customer == nil || customer.ID == "" {
		return nil, nil
	}
	var userID string
	err := h.db.QueryRow(ctx, "SELECT id FROM users WHERE stripe_customer_id = $1", customer.ID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up customer %s: %w", customer.ID, err)
	}
	return &userID, nil
}

func (h *Handlers) mailUser(ctx context.Context, userID string, send func(email, name string) error) {
	if h.mailer == nil {
		return
	}
	var email, name string
	if err := h.db.QueryRow(ctx, "SELECT email, name FROM users WHERE id = $1", userID).Scan(&email, &name); err != nil {
		slog.Error("billing: load user for email", "user_id", userID, "error", err)
		return
	}
	if err := send(email, name); err != nil {
		slog.Error("billing: send email", "user_id", userID, "error", err)
	}
}
