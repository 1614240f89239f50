// Package notify fans catalog publish events out to in-app notifications,
// email and outbound webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/metrics"
)

const (
	KindVideo   = "video"
	KindEpisode = "episode"
)

// Event is emitted when a video or episode becomes watchable.
type Event struct {
	Kind        string
	VideoID     string
	EpisodeID   string
	Title       string
	SeriesTitle string
	Season      int
	Episode     int
	WatchURL    string
}

func (e Event) headline() string {
	if e.Kind == KindEpisode {
		return fmt.Sprintf("New episode of %s", e.SeriesTitle)
	}
	return "New on vidstream: " + e.Title
}

func (e Event) summary() string {
	if e.Kind == KindEpisode {
		return fmt.Sprintf("S%02dE%02d %s is now available.", e.Season, e.Episode, e.Title)
	}
	return fmt.Sprintf("%s is now available to watch.", e.Title)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi delivers an event to every publisher. A failing publisher is
// logged and does not stop the others.
type Multi struct {
	publishers []Publisher
}

func NewMulti(publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers}
}

func (m *Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, e); err != nil {
			slog.Error("notify: publisher failed", "kind", e.Kind, "video_id", e.VideoID, "episode_id", e.EpisodeID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InApp writes rows to the notifications table. Episodes notify users who
// favorited the series; new videos notify everyone.
type InApp struct {
	db database.DBTX
}

func NewInApp(db database.DBTX) *InApp {
	return &InApp{db: db}
}

func (n *InApp) Publish(ctx context.Context, e Event) error {
	var sql string
	args := []any{e.headline(), e.summary(), e.WatchURL}
	switch e.Kind {
	case KindEpisode:
		sql = `INSERT INTO notifications (user_id, title, body, link)
		       SELECT f.user_id, $1, $2, $3 FROM favorites f WHERE f.video_id = $4`
		args = append(args, e.VideoID)
	case KindVideo:
		sql = `INSERT INTO notifications (user_id, title, body, link)
		       SELECT u.id, $1, $2, $3 FROM users u`
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}

	tag, err := n.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(e.Kind).Add(float64(tag.RowsAffected()))
	return nil
}

// Broadcast sends an admin-authored notification to every user and
// returns how many rows were created.
func Broadcast(ctx context.Context, db database.DBTX, title, body, link string) (int64, error) {
	tag, err := db.Exec(ctx,
		`INSERT INTO notifications (user_id, title, body, link)
		 SELECT u.id, $1, $2, $3 FROM users u`,
		strings.TrimSpace(title), body, link,
	)
	if err != nil {
		return 0, fmt.Errorf("broadcast notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues("broadcast").Add(float64(tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

type NewContentMailer interface {
	SendNewContent(ctx context.Context, toEmail, toName, title, watchURL string) error
}

// Email mails favoriters when a new episode of their series lands.
type Email struct {
	db     database.DBTX
	mailer NewContentMailer
}

func NewEmail(db database.DBTX, mailer NewContentMailer) *Email {
	return &Email{db: db, mailer: mailer}
}

func (n *Email) Publish(ctx context.Context, e Event) error {
	if e.Kind != KindEpisode {
		return nil
	}
	rows, err := n.db.Query(ctx,
		`SELECT u.email, u.name FROM favorites f
		 JOIN users u ON u.id = f.user_id
		 WHERE f.video_id = $1`,
		e.VideoID,
	)
	if err != nil {
		return fmt.Errorf("query favoriters: %w", err)
	}
	type recipient struct{ email, name string }
	var recipients []recipient
	for rows.Next() {
		var r recipient
		if err := rows.Scan(&r.email, &r.name); err != nil {
			rows.Close()
			return fmt.Errorf("scan favoriter: %w", err)
		}
		recipients = append(recipients, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate favoriters: %w", err)
	}

	title := fmt.Sprintf("%s S%02dE%02d: %s", e.SeriesTitle, e.Season, e.Episode, e.Title)
	for _, r := range recipients {
		if err := n.mailer.SendNewContent(ctx, r.email, r.name, title, e.WatchURL); err != nil {
			slog.Error("notify: new content email failed", "episode_id", e.EpisodeID, "error", err)
		}
	}
	return nil
}
