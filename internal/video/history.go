package video

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/ratelimit"
)

// completedPercent is the share of the runtime after which a title counts
// as watched.
const completedPercent = 90

func isCompleted(position, duration int) bool {
	return duration > 0 && position*100 >= duration*completedPercent
}

// deviceFamily reduces a User-Agent to bot, mobile, desktop or "".
func deviceFamily(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	switch {
	case ua.Bot():
		return "bot"
	case ua.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}

type progressRequest struct {
	VideoID   string  `json:"videoId"`
	EpisodeID *string `json:"episodeId"`
	Position  int     `json:"position"`
	Duration  int     `json:"duration"`
}

type progressResponse struct {
	ID        string `json:"id"`
	Completed bool   `json:"completed"`
}

// SaveProgress upserts the caller's position for a title or episode. The
// first report for a slot counts as a view.
func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req progressRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	if uuid.Validate(req.VideoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid videoId")
		return
	}
	if req.EpisodeID != nil && uuid.Validate(*req.EpisodeID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid episodeId")
		return
	}
	if req.Position < 0 || req.Duration < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "position and duration must not be negative")
		return
	}
	if req.Duration > 0 && req.Position > req.Duration {
		req.Position = req.Duration
	}

	var playable bool
	var err error
	if req.EpisodeID != nil {
		err = h.db.QueryRow(r.Context(),
			`SELECT EXISTS (SELECT 1 FROM episodes e JOIN videos v ON v.id = e.video_id
			                WHERE e.id = $1 AND e.video_id = $2 AND e.status = 'ready' AND v.status = 'ready')`,
			*req.EpisodeID, req.VideoID,
		).Scan(&playable)
	} else {
		err = h.db.QueryRow(r.Context(),
			"SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1 AND status = 'ready')",
			req.VideoID,
		).Scan(&playable)
	}
	if err != nil {
		httputil.InternalError(w, r, "history: check title", err, "video_id", req.VideoID)
		return
	}
	if !playable {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	country := ""
	if h.geo != nil {
		country = h.geo.Country(ratelimit.ClientIP(r))
	}
	completed := isCompleted(req.Position, req.Duration)

	var resp progressResponse
	var inserted bool
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO watch_history (user_id, video_id, episode_id, position, duration, completed, device, country)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, video_id, COALESCE(episode_id, '00000000-0000-0000-0000-000000000000'::uuid))
		 DO UPDATE SET position = EXCLUDED.position,
		               duration = EXCLUDED.duration,
		               completed = watch_history.completed OR EXCLUDED.completed,
		               device = EXCLUDED.device,
		               country = EXCLUDED.country,
		               updated_at = now()
		 RETURNING id, completed, (xmax = 0)`,
		userID, req.VideoID, req.EpisodeID, req.Position, req.Duration, completed, deviceFamily(r.UserAgent()), country,
	).Scan(&resp.ID, &resp.Completed, &inserted)
	if err != nil {
		httputil.InternalError(w, r, "history: save progress", err, "user_id", userID, "video_id", req.VideoID)
		return
	}

	if inserted {
		if _, err := h.db.Exec(r.Context(),
			"UPDATE videos SET view_count = view_count + 1 WHERE id = $1",
			req.VideoID,
		); err != nil {
			httputil.InternalError(w, r, "history: count view", err, "video_id", req.VideoID)
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

type historyItem struct {
	ID            string    `json:"id"`
	VideoID       string    `json:"videoId"`
	Title         string    `json:"title"`
	Kind          string    `json:"kind"`
	ThumbnailURL  string    `json:"thumbnailUrl"`
	EpisodeID     *string   `json:"episodeId"`
	EpisodeTitle  *string   `json:"episodeTitle"`
	SeasonNumber  *int      `json:"seasonNumber"`
	EpisodeNumber *int      `json:"episodeNumber"`
	Position      int       `json:"position"`
	Duration      int       `json:"duration"`
	Completed     bool      `json:"completed"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, onlyUnfinished bool, page httputil.Page) {
	userID := auth.UserIDFromContext(r.Context())

	filter := ""
	if onlyUnfinished {
		filter = " AND h.completed = false AND h.position > 0"
	}
	rows, err := h.db.Query(r.Context(),
		`SELECT h.id, h.video_id, v.title, v.kind, COALESCE(e.thumbnail_key, v.thumbnail_key),
		        h.episode_id, e.title, e.season_number, e.episode_number,
		        h.position, h.duration, h.completed, h.updated_at
		 FROM watch_history h
		 JOIN videos v ON v.id = h.video_id
		 LEFT JOIN episodes e ON e.id = h.episode_id
		 WHERE h.user_id = $1 AND v.status != 'deleted'`+filter+`
		 ORDER BY h.updated_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		httputil.InternalError(w, r, "history: list", err, "user_id", userID)
		return
	}
	defer rows.Close()

	items := []historyItem{}
	for rows.Next() {
		var it historyItem
		var thumbnailKey *string
		if err := rows.Scan(&it.ID, &it.VideoID, &it.Title, &it.Kind, &thumbnailKey,
			&it.EpisodeID, &it.EpisodeTitle, &it.SeasonNumber, &it.EpisodeNumber,
			&it.Position, &it.Duration, &it.Completed, &it.UpdatedAt); err != nil {
			httputil.InternalError(w, r, "history: scan", err)
			return
		}
		it.ThumbnailURL = h.imageURL(r.Context(), thumbnailKey)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "history: iterate", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, false, httputil.ParsePage(r, 50, 200))
}

// ContinueWatching lists started but unfinished titles, newest first.
func (h *Handler) ContinueWatching(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, true, httputil.ParsePage(r, 20, 50))
}

func (h *Handler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid history id")
		return
	}

	tag, err := h.db.Exec(r.Context(), "DELETE FROM watch_history WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		httputil.InternalError(w, r, "history: delete entry", err, "user_id", userID)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "history entry not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	if _, err := h.db.Exec(r.Context(), "DELETE FROM watch_history WHERE user_id = $1", userID); err != nil {
		httputil.InternalError(w, r, "history: clear", err, "user_id", userID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
