package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxResponseBodyBytes = 1024

type webhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	VideoID   string    `json:"videoId"`
	EpisodeID string    `json:"episodeId,omitempty"`
	Title     string    `json:"title"`
	Series    string    `json:"seriesTitle,omitempty"`
	Season    int       `json:"season,omitempty"`
	Episode   int       `json:"episode,omitempty"`
	WatchURL  string    `json:"watchUrl"`
}

// Webhook posts publish events as signed JSON to an operator endpoint.
type Webhook struct {
	url         string
	secret      string
	http        *http.Client
	retryDelays []time.Duration
	now         func() time.Time
}

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:         url,
		secret:      secret,
		http:        &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 4 * time.Second},
		now:         time.Now,
	}
}

// SignPayload computes the X-Webhook-Signature header value.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Publish delivers e with up to three attempts.
func (w *Webhook) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(webhookPayload{
		Event:     e.Kind + ".published",
		Timestamp: w.now().UTC(),
		Kind:      e.Kind,
		VideoID:   e.VideoID,
		EpisodeID: e.EpisodeID,
		Title:     e.Title,
		Series:    e.SeriesTitle,
		Season:    e.Season,
		Episode:   e.Episode,
		WatchURL:  e.WatchURL,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	signature := SignPayload(w.secret, body)
	maxAttempts := 1 + len(w.retryDelays)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, err := w.post(ctx, body, signature)
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook returned status %d", status)
		}
		slog.Warn("notify: webhook delivery failed", "attempt", attempt, "status", status, "response", respBody, "error", lastErr)

		if attempt < maxAttempts {
			select {
			case <-time.After(w.retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (w *Webhook) post(ctx context.Context, body []byte, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := w.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	return resp.StatusCode, string(respBytes), nil
}

// Slack announces publish events in a channel through an incoming webhook.
type Slack struct {
	url  string
	http *http.Client
}

func NewSlack(url string) *Slack {
	return &Slack{url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func slackMessage(e Event) slackPayload {
	return slackPayload{
		Text: e.headline(),
		Blocks: []slackBlock{
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf(":clapper: *%s*\n<%s|%s>", e.headline(), e.WatchURL, e.Title)},
			},
			{
				Type:     "context",
				Elements: []slackText{{Type: "mrkdwn", Text: e.summary()}},
			},
		},
	}
}

func (s *Slack) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(slackMessage(e))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
