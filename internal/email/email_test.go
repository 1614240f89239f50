package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeTransport struct {
	sent []Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, m Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func newTestClient(cfg Config) (*Client, *fakeTransport) {
	ft := &fakeTransport{}
	c := New(cfg)
	c.transport = ft
	return c, ft
}

func TestSendPasswordReset_Success(t *testing.T) {
	client, ft := newTestClient(Config{Host: "smtp.example.com"})

	err := client.SendPasswordReset(context.Background(), "alice@example.com", "Alice", "https://watch.example.com/reset-password?token=abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(ft.sent))
	}
	m := ft.sent[0]
	if m.To != "alice@example.com" || m.ToName != "Alice" {
		t.Errorf("unexpected recipient %q <%q>", m.ToName, m.To)
	}
	if m.Subject != "Reset your password" {
		t.Errorf("unexpected subject %q", m.Subject)
	}
	if !strings.Contains(m.Body, "token=abc123") {
		t.Errorf("expected reset link in body, got %q", m.Body)
	}
	if !strings.HasPrefix(m.Body, "Hi Alice,") {
		t.Errorf("expected greeting, got %q", m.Body)
	}
}

func TestSend_TransportError(t *testing.T) {
	client, ft := newTestClient(Config{Host: "smtp.example.com"})
	ft.err = errors.New("421 service not available")

	err := client.SendWelcome(context.Background(), "alice@example.com", "Alice", "https://watch.example.com/browse")
	if err == nil {
		t.Fatal("expected error from failing transport")
	}
	if !strings.Contains(err.Error(), "welcome") {
		t.Errorf("expected template name in error, got %v", err)
	}
}

func TestSend_NotConfiguredLogsInstead(t *testing.T) {
	client := New(Config{})
	if client.transport != nil {
		t.Fatal("expected no transport without host")
	}
	if err := client.SendNewContent(context.Background(), "bob@example.com", "", "Pilot", "https://watch.example.com/videos/1"); err != nil {
		t.Errorf("expected nil error when not configured, got %v", err)
	}
}

func TestSend_Allowlist(t *testing.T) {
	client, ft := newTestClient(Config{Host: "smtp.example.com", Allowlist: []string{"qa@example.com", "@staff.example.com"}})
	ctx := context.Background()

	_ = client.SendPaymentFailed(ctx, "someone@else.com", "", "https://watch.example.com/billing")
	_ = client.SendPaymentFailed(ctx, "QA@example.com", "", "https://watch.example.com/billing")
	_ = client.SendPaymentFailed(ctx, "dev@staff.example.com", "", "https://watch.example.com/billing")

	if len(ft.sent) != 2 {
		t.Fatalf("expected 2 allowlisted messages, got %d", len(ft.sent))
	}
	if ft.sent[0].To != "QA@example.com" || ft.sent[1].To != "dev@staff.example.com" {
		t.Errorf("unexpected recipients: %+v", ft.sent)
	}
}

func TestSendSubscriptionActivated_IncludesRenewal(t *testing.T) {
	client, ft := newTestClient(Config{Host: "smtp.example.com"})
	renews := time.Date(2026, 11, 3, 12, 0, 0, 0, time.UTC)

	if err := client.SendSubscriptionActivated(context.Background(), "a@example.com", "Ann", "Premium", renews); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := ft.sent[0]
	if m.Subject != "Your Premium plan is active" {
		t.Errorf("unexpected subject %q", m.Subject)
	}
	if !strings.Contains(m.Body, "November 3, 2026") {
		t.Errorf("expected renewal date in body, got %q", m.Body)
	}
}

func TestSendSubscriptionCanceled(t *testing.T) {
	client, ft := newTestClient(Config{Host: "smtp.example.com"})
	if err := client.SendSubscriptionCanceled(context.Background(), "a@example.com", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(ft.sent[0].Body, "Hi,") {
		t.Errorf("expected nameless greeting, got %q", ft.sent[0].Body)
	}
}
