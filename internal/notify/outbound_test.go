package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var episodeEvent = Event{
	Kind:        KindEpisode,
	VideoID:     "series-1",
	EpisodeID:   "e1",
	Title:       "The Storm",
	SeriesTitle: "Harbor Lights",
	Season:      2,
	Episode:     5,
	WatchURL:    "https://watch.example.com/episodes/e1",
}

func TestSignPayload(t *testing.T) {
	sig := SignPayload("secret", []byte(`{"event":"video.published"}`))
	if !strings.HasPrefix(sig, "sha256=") || len(sig) != len("sha256=")+64 {
		t.Errorf("unexpected signature format %q", sig)
	}
	if sig == SignPayload("other", []byte(`{"event":"video.published"}`)) {
		t.Error("signature should depend on the secret")
	}
}

func TestWebhook_SignsAndDelivers(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "secret")
	wh.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := wh.Publish(context.Background(), episodeEvent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSig != SignPayload("secret", gotBody) {
		t.Errorf("signature %q does not match body", gotSig)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["event"] != "episode.published" || payload["seriesTitle"] != "Harbor Lights" || payload["season"] != float64(2) {
		t.Errorf("unexpected payload %s", gotBody)
	}
	if payload["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("timestamp = %v", payload["timestamp"])
	}
}

func TestWebhook_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "secret")
	wh.retryDelays = []time.Duration{time.Millisecond, time.Millisecond}

	err := wh.Publish(context.Background(), episodeEvent)
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected status error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestWebhook_SucceedsOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "secret")
	wh.retryDelays = []time.Duration{time.Millisecond, time.Millisecond}

	if err := wh.Publish(context.Background(), episodeEvent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestWebhook_StopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "secret")
	wh.retryDelays = []time.Duration{time.Hour, time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := wh.Publish(ctx, episodeEvent); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSlack_PostsBlocks(t *testing.T) {
	var payload slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	if err := NewSlack(srv.URL).Publish(context.Background(), episodeEvent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Text != "New episode of Harbor Lights" {
		t.Errorf("text = %q", payload.Text)
	}
	if len(payload.Blocks) != 2 || !strings.Contains(payload.Blocks[0].Text.Text, "<https://watch.example.com/episodes/e1|The Storm>") {
		t.Errorf("unexpected blocks %+v", payload.Blocks)
	}
	if payload.Blocks[1].Elements[0].Text != "S02E05 The Storm is now available." {
		t.Errorf("context = %q", payload.Blocks[1].Elements[0].Text)
	}
}

func TestSlack_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlack(srv.URL).Publish(context.Background(), Event{Kind: KindVideo, Title: "Heist"})
	if err == nil || !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("expected status error, got %v", err)
	}
}
