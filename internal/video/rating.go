package video

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/validate"
)

const (
	minScore = 1
	maxScore = 5
)

type rateRequest struct {
	Score  int    `json:"score"`
	Review string `json:"review"`
}

type ratingSummary struct {
	AverageRating float64 `json:"averageRating"`
	RatingCount   int64   `json:"ratingCount"`
	MyRating      *int    `json:"myRating"`
}

func (h *Handler) ratingSummary(ctx context.Context, videoID string) (ratingSummary, error) {
	var s ratingSummary
	err := h.db.QueryRow(ctx,
		"SELECT COALESCE(AVG(score)::float8, 0), COUNT(*) FROM ratings WHERE video_id = $1",
		videoID,
	).Scan(&s.AverageRating, &s.RatingCount)
	if err != nil {
		return s, fmt.Errorf("rating summary: %w", err)
	}
	s.AverageRating = roundRating(s.AverageRating)
	return s, nil
}

// RateVideo creates or replaces the caller's rating and answers with the
// refreshed summary.
func (h *Handler) RateVideo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	var req rateRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	if req.Score < minScore || req.Score > maxScore {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("score must be between %d and %d", minScore, maxScore))
		return
	}
	req.Review = strings.TrimSpace(req.Review)
	if msg := validate.Review(req.Review); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`INSERT INTO ratings (user_id, video_id, score, review)
		 SELECT $1::uuid, id, $3::int, $4::text FROM videos WHERE id = $2 AND status = 'ready'
		 ON CONFLICT (user_id, video_id) DO UPDATE SET score = EXCLUDED.score, review = EXCLUDED.review, updated_at = now()`,
		userID, videoID, req.Score, req.Review,
	)
	if err != nil {
		httputil.InternalError(w, r, "ratings: upsert", err, "user_id", userID, "video_id", videoID)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	summary, err := h.ratingSummary(r.Context(), videoID)
	if err != nil {
		httputil.InternalError(w, r, "ratings: summary", err, "video_id", videoID)
		return
	}
	summary.MyRating = &req.Score
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) DeleteRating(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	tag, err := h.db.Exec(r.Context(), "DELETE FROM ratings WHERE user_id = $1 AND video_id = $2", userID, videoID)
	if err != nil {
		httputil.InternalError(w, r, "ratings: delete", err, "user_id", userID, "video_id", videoID)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "rating not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type reviewItem struct {
	UserName  string    `json:"userName"`
	Score     int       `json:"score"`
	Review    string    `json:"review"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type reviewListResponse struct {
	ratingSummary
	Reviews []reviewItem `json:"reviews"`
}

func (h *Handler) ListRatings(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	page := httputil.ParsePage(r, 20, 100)

	summary, err := h.ratingSummary(r.Context(), videoID)
	if err != nil {
		httputil.InternalError(w, r, "ratings: summary", err, "video_id", videoID)
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT u.name, rt.score, rt.review, rt.updated_at
		 FROM ratings rt
		 JOIN users u ON u.id = rt.user_id
		 WHERE rt.video_id = $1 AND rt.review != ''
		 ORDER BY rt.updated_at DESC
		 LIMIT $2 OFFSET $3`,
		videoID, page.Limit, page.Offset,
	)
	if err != nil {
		httputil.InternalError(w, r, "ratings: list reviews", err, "video_id", videoID)
		return
	}
	defer rows.Close()

	resp := reviewListResponse{ratingSummary: summary, Reviews: []reviewItem{}}
	for rows.Next() {
		var it reviewItem
		if err := rows.Scan(&it.UserName, &it.Score, &it.Review, &it.UpdatedAt); err != nil {
			httputil.InternalError(w, r, "ratings: scan review", err)
			return
		}
		resp.Reviews = append(resp.Reviews, it)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "ratings: iterate reviews", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
