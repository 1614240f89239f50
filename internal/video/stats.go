package video

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidstream/vidstream/internal/httputil"
)

const (
	statsCacheKey = "vidstream:admin:stats"
	statsCacheTTL = 60 * time.Second
	statsWindow   = 30
	statsTopLimit = 10
)

type statsTotals struct {
	Users       int64 `json:"users"`
	Subscribers int64 `json:"subscribers"`
	Videos      int64 `json:"videos"`
	Episodes    int64 `json:"episodes"`
}

type revenueStat struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type topVideo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Views int64  `json:"views"`
}

type countryViews struct {
	Country string `json:"country"`
	Views   int64  `json:"views"`
}

type statsResponse struct {
	Totals      statsTotals    `json:"totals"`
	Revenue30d  []revenueStat  `json:"revenue30d"`
	Views30d    int64          `json:"views30d"`
	TopVideos   []topVideo     `json:"topVideos"`
	ByCountry   []countryViews `json:"viewsByCountry"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// AdminStats serves the dashboard numbers, cached for a minute when a
// cache is configured.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		cached, err := h.cache.Get(r.Context(), statsCacheKey)
		if err != nil {
			slog.Warn("stats: cache read failed", "error", err)
		} else if cached != "" {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(cached))
			return
		}
	}

	resp, err := h.collectStats(r.Context())
	if err != nil {
		httputil.InternalError(w, r, "stats: collect", err)
		return
	}

	if h.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(r.Context(), statsCacheKey, string(data), statsCacheTTL); err != nil {
				slog.Warn("stats: cache write failed", "error", err)
			}
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) collectStats(ctx context.Context) (statsResponse, error) {
	resp := statsResponse{
		Revenue30d:  []revenueStat{},
		TopVideos:   []topVideo{},
		ByCountry:   []countryViews{},
		GeneratedAt: h.now().UTC(),
	}

	err := h.db.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM users),
		        (SELECT COUNT(*) FROM subscriptions WHERE status IN ('active', 'trialing', 'past_due')),
		        (SELECT COUNT(*) FROM videos WHERE status != 'deleted'),
		        (SELECT COUNT(*) FROM episodes WHERE status != 'deleted')`,
	).Scan(&resp.Totals.Users, &resp.Totals.Subscribers, &resp.Totals.Videos, &resp.Totals.Episodes)
	if err != nil {
		return resp, fmt.Errorf("totals: %w", err)
	}

	rows, err := h.db.Query(ctx,
		`SELECT currency, COALESCE(SUM(amount), 0)
		 FROM payments
		 WHERE status = 'succeeded' AND created_at >= now() - make_interval(days => $1)
		 GROUP BY currency
		 ORDER BY currency`,
		statsWindow,
	)
	if err != nil {
		return resp, fmt.Errorf("revenue: %w", err)
	}
	for rows.Next() {
		var rs revenueStat
		if err := rows.Scan(&rs.Currency, &rs.Amount); err != nil {
			rows.Close()
			return resp, fmt.Errorf("scan revenue: %w", err)
		}
		resp.Revenue30d = append(resp.Revenue30d, rs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return resp, fmt.Errorf("revenue rows: %w", err)
	}

	if err := h.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM watch_history WHERE created_at >= now() - make_interval(days => $1)",
		statsWindow,
	).Scan(&resp.Views30d); err != nil {
		return resp, fmt.Errorf("views: %w", err)
	}

	rows, err = h.db.Query(ctx,
		`SELECT id, title, view_count FROM videos
		 WHERE status = 'ready'
		 ORDER BY view_count DESC, title
		 LIMIT $1`,
		statsTopLimit,
	)
	if err != nil {
		return resp, fmt.Errorf("top videos: %w", err)
	}
	for rows.Next() {
		var tv topVideo
		if err := rows.Scan(&tv.ID, &tv.Title, &tv.Views); err != nil {
			rows.Close()
			return resp, fmt.Errorf("scan top video: %w", err)
		}
		resp.TopVideos = append(resp.TopVideos, tv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return resp, fmt.Errorf("top video rows: %w", err)
	}

	rows, err = h.db.Query(ctx,
		`SELECT country, COUNT(*) FROM watch_history
		 WHERE country != '' AND created_at >= now() - make_interval(days => $1)
		 GROUP BY country
		 ORDER BY COUNT(*) DESC, country
		 LIMIT $2`,
		statsWindow, statsTopLimit,
	)
	if err != nil {
		return resp, fmt.Errorf("views by country: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cv countryViews
		if err := rows.Scan(&cv.Country, &cv.Views); err != nil {
			return resp, fmt.Errorf("scan country: %w", err)
		}
		resp.ByCountry = append(resp.ByCountry, cv)
	}
	if err := rows.Err(); err != nil {
		return resp, fmt.Errorf("country rows: %w", err)
	}

	return resp, nil
}
