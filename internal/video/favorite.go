package video

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
)

type favoriteItem struct {
	VideoID      string    `json:"videoId"`
	Kind         string    `json:"kind"`
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	AddedAt      time.Time `json:"addedAt"`
}

func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	page := httputil.ParsePage(r, 50, 200)

	rows, err := h.db.Query(r.Context(),
		`SELECT v.id, v.kind, v.title, v.thumbnail_key, f.created_at
		 FROM favorites f
		 JOIN videos v ON v.id = f.video_id
		 WHERE f.user_id = $1 AND v.status = 'ready'
		 ORDER BY f.created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		httputil.InternalError(w, r, "favorites: list", err, "user_id", userID)
		return
	}
	defer rows.Close()

	items := []favoriteItem{}
	for rows.Next() {
		var f favoriteItem
		var thumbnailKey *string
		if err := rows.Scan(&f.VideoID, &f.Kind, &f.Title, &thumbnailKey, &f.AddedAt); err != nil {
			httputil.InternalError(w, r, "favorites: scan", err)
			return
		}
		f.ThumbnailURL = h.imageURL(r.Context(), thumbnailKey)
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "favorites: iterate", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

// AddFavorite is idempotent: favoriting twice leaves one row.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "videoId")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`INSERT INTO favorites (user_id, video_id)
		 SELECT $1::uuid, id FROM videos WHERE id = $2 AND status = 'ready'
		 ON CONFLICT (user_id, video_id) DO NOTHING`,
		userID, videoID,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		httputil.InternalError(w, r, "favorites: add", err, "user_id", userID, "video_id", videoID)
		return
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := h.db.QueryRow(r.Context(),
			"SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND video_id = $2)",
			userID, videoID,
		).Scan(&exists); err != nil {
			httputil.InternalError(w, r, "favorites: check existing", err, "user_id", userID, "video_id", videoID)
			return
		}
		if !exists {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "videoId")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		"DELETE FROM favorites WHERE user_id = $1 AND video_id = $2",
		userID, videoID,
	)
	if err != nil {
		httputil.InternalError(w, r, "favorites: remove", err, "user_id", userID, "video_id", videoID)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "favorite not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
