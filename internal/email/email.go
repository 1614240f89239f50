package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vidstream/vidstream/internal/metrics"
	"github.com/wneessen/go-mail"
)

type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	Allowlist []string
}

type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

type transport interface {
	Send(ctx context.Context, m Message) error
}

type Client struct {
	config    Config
	transport transport
}

func New(cfg Config) *Client {
	c := &Client{config: cfg}
	if cfg.Host != "" {
		c.transport = &smtpTransport{config: cfg}
	}
	return c
}

type smtpTransport struct {
	config Config
}

func (t *smtpTransport) Send(ctx context.Context, m Message) error {
	msg := mail.NewMsg()
	if err := msg.From(t.config.From); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.AddToFormat(m.ToName, m.To); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, m.Body)

	opts := []mail.Option{
		mail.WithPort(t.config.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if t.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.config.Username),
			mail.WithPassword(t.config.Password),
		)
	}
	client, err := mail.NewClient(t.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send via smtp: %w", err)
	}
	return nil
}

func (c *Client) allowed(addr string) bool {
	if len(c.config.Allowlist) == 0 {
		return true
	}
	addr = strings.ToLower(addr)
	for _, entry := range c.config.Allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == addr {
			return true
		}
		if strings.HasPrefix(entry, "@") && strings.HasSuffix(addr, entry) {
			return true
		}
	}
	return false
}

func (c *Client) send(ctx context.Context, template string, m Message) error {
	if !c.allowed(m.To) {
		slog.Info("email: recipient not in allowlist, skipping", "template", template, "to", m.To)
		metrics.EmailsSent.WithLabelValues(template, "skipped").Inc()
		return nil
	}
	if c.transport == nil {
		slog.Info("email: smtp not configured, message not sent", "template", template, "to", m.To, "subject", m.Subject, "body", m.Body)
		metrics.EmailsSent.WithLabelValues(template, "logged").Inc()
		return nil
	}
	if err := c.transport.Send(ctx, m); err != nil {
		metrics.EmailsSent.WithLabelValues(template, "failed").Inc()
		return fmt.Errorf("send %s email: %w", template, err)
	}
	metrics.EmailsSent.WithLabelValues(template, "sent").Inc()
	return nil
}

func greeting(name string) string {
	if name == "" {
		return "Hi,"
	}
	return fmt.Sprintf("Hi %s,", name)
}

func (c *Client) SendWelcome(ctx context.Context, toEmail, toName, browseURL string) error {
	body := fmt.Sprintf("%s\n\nWelcome aboard! Your account is ready and the whole free catalog is open to you.\n\nStart watching: %s\n",
		greeting(toName), browseURL)
	return c.send(ctx, "welcome", Message{To: toEmail, ToName: toName, Subject: "Welcome to vidstream", Body: body})
}

func (c *Client) SendPasswordReset(ctx context.Context, toEmail, toName, resetLink string) error {
	body := fmt.Sprintf("%s\n\nSomeone asked to reset the password for your account. The link below works for one hour:\n\n%s\n\nIf this was not you, ignore this email.\n",
		greeting(toName), resetLink)
	return c.send(ctx, "password_reset", Message{To: toEmail, ToName: toName, Subject: "Reset your password", Body: body})
}

func (c *Client) SendSubscriptionActivated(ctx context.Context, toEmail, toName, planName string, renewsAt time.Time) error {
	renewal := ""
	if !renewsAt.IsZero() {
		renewal = fmt.Sprintf(" It renews on %s.", renewsAt.UTC().Format("January 2, 2006"))
	}
	body := fmt.Sprintf("%s\n\nYour %s plan is active.%s Premium titles are now unlocked.\n", greeting(toName), planName, renewal)
	return c.send(ctx, "subscription_activated", Message{To: toEmail, ToName: toName, Subject: "Your " + planName + " plan is active", Body: body})
}

func (c *Client) SendPaymentFailed(ctx context.Context, toEmail, toName, billingURL string) error {
	body := fmt.Sprintf("%s\n\nWe could not charge your payment method for your subscription. Update your billing details to keep watching:\n\n%s\n",
		greeting(toName), billingURL)
	return c.send(ctx, "payment_failed", Message{To: toEmail, ToName: toName, Subject: "Payment failed", Body: body})
}

func (c *Client) SendSubscriptionCanceled(ctx context.Context, toEmail, toName string) error {
	body := fmt.Sprintf("%s\n\nYour subscription has ended and your account is back on the free plan. You can resubscribe at any time.\n", greeting(toName))
	return c.send(ctx, "subscription_canceled", Message{To: toEmail, ToName: toName, Subject: "Your subscription has ended", Body: body})
}

func (c *Client) SendNewContent(ctx context.Context, toEmail, toName, title, watchURL string) error {
	body := fmt.Sprintf("%s\n\n%q is now available.\n\nWatch it here: %s\n", greeting(toName), title, watchURL)
	return c.send(ctx, "new_content", Message{To: toEmail, ToName: toName, Subject: "New: " + title, Body: body})
}
