package video

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/httputil"
)

type categoryRef struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type videoSummary struct {
	ID                   string       `json:"id"`
	Kind                 string       `json:"kind"`
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	ReleaseYear          *int         `json:"releaseYear"`
	RequiresSubscription bool         `json:"requiresSubscription"`
	Duration             int          `json:"duration"`
	ThumbnailURL         string       `json:"thumbnailUrl"`
	ViewCount            int64        `json:"viewCount"`
	PublishedAt          *time.Time   `json:"publishedAt"`
	Category             *categoryRef `json:"category"`
	AverageRating        float64      `json:"averageRating"`
	RatingCount          int64        `json:"ratingCount"`
}

type videoListResponse struct {
	Videos []videoSummary `json:"videos"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

var videoSorts = map[string]string{
	"newest":  "v.published_at DESC NULLS LAST, v.created_at DESC",
	"popular": "v.view_count DESC, v.published_at DESC NULLS LAST",
	"rating":  "avg_rating DESC, rating_count DESC",
	"title":   "v.title ASC",
}

func roundRating(avg float64) float64 {
	return math.Round(avg*10) / 10
}

func categoryFrom(slug, name *string) *categoryRef {
	if slug == nil || name == nil {
		return nil
	}
	return &categoryRef{Slug: *slug, Name: *name}
}

// ListVideos returns ready titles filtered by category slug, kind and a
// free-text query, ordered by one of the named sorts.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := httputil.ParsePage(r, 24, 100)

	sortKey := q.Get("sort")
	if sortKey == "" {
		sortKey = "newest"
	}
	orderBy, ok := videoSorts[sortKey]
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "sort must be newest, popular, rating or title")
		return
	}

	where := []string{"v.status = 'ready'"}
	var args []any
	if category := q.Get("category"); category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("c.slug = $%d", len(args)))
	}
	if kind := q.Get("kind"); kind != "" {
		if kind != videoKindMovie && kind != videoKindSeries {
			httputil.WriteError(w, http.StatusBadRequest, "kind must be movie or series")
			return
		}
		args = append(args, kind)
		where = append(where, fmt.Sprintf("v.kind = $%d", len(args)))
	}
	if text := strings.TrimSpace(q.Get("q")); text != "" {
		args = append(args, "%"+escapeLike(text)+"%")
		where = append(where, fmt.Sprintf("(v.title ILIKE $%d OR v.description ILIKE $%d)", len(args), len(args)))
	}
	args = append(args, page.Limit, page.Offset)

	query := fmt.Sprintf(`SELECT v.id, v.kind, v.title, v.description, v.release_year, v.requires_subscription,
		        v.duration, v.thumbnail_key, v.view_count, v.published_at, c.slug, c.name,
		        COALESCE(rt.avg_rating, 0) AS avg_rating, COALESCE(rt.rating_count, 0) AS rating_count
		 FROM videos v
		 LEFT JOIN categories c ON c.id = v.category_id
		 LEFT JOIN (
		     SELECT video_id, AVG(score)::float8 AS avg_rating, COUNT(*) AS rating_count
		     FROM ratings GROUP BY video_id
		 ) rt ON rt.video_id = v.id
		 WHERE %s
		 ORDER BY %s
		 LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), orderBy, len(args)-1, len(args))

	rows, err := h.db.Query(r.Context(), query, args...)
	if err != nil {
		httputil.InternalError(w, r, "videos: list", err)
		return
	}
	defer rows.Close()

	resp := videoListResponse{Videos: []videoSummary{}, Limit: page.Limit, Offset: page.Offset}
	for rows.Next() {
		var v videoSummary
		var thumbnailKey, categorySlug, categoryName *string
		if err := rows.Scan(&v.ID, &v.Kind, &v.Title, &v.Description, &v.ReleaseYear, &v.RequiresSubscription,
			&v.Duration, &thumbnailKey, &v.ViewCount, &v.PublishedAt, &categorySlug, &categoryName,
			&v.AverageRating, &v.RatingCount); err != nil {
			httputil.InternalError(w, r, "videos: scan", err)
			return
		}
		v.ThumbnailURL = h.imageURL(r.Context(), thumbnailKey)
		v.Category = categoryFrom(categorySlug, categoryName)
		v.AverageRating = roundRating(v.AverageRating)
		resp.Videos = append(resp.Videos, v)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "videos: iterate", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

type videoDetail struct {
	videoSummary
	Status       string         `json:"status,omitempty"`
	EpisodeCount int64          `json:"episodeCount"`
	Subtitles    []subtitleItem `json:"subtitles"`
	Favorite     bool           `json:"favorite"`
	MyRating     *int           `json:"myRating"`
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	var d videoDetail
	var thumbnailKey, categorySlug, categoryName *string
	err := h.db.QueryRow(r.Context(),
		`SELECT v.id, v.kind, v.title, v.description, v.release_year, v.requires_subscription,
		        v.duration, v.thumbnail_key, v.view_count, v.published_at, v.status, c.slug, c.name,
		        COALESCE((SELECT AVG(score)::float8 FROM ratings WHERE video_id = v.id), 0),
		        (SELECT COUNT(*) FROM ratings WHERE video_id = v.id),
		        (SELECT COUNT(*) FROM episodes e WHERE e.video_id = v.id AND e.status = 'ready')
		 FROM videos v
		 LEFT JOIN categories c ON c.id = v.category_id
		 WHERE v.id = $1 AND v.status != 'deleted'`,
		id,
	).Scan(&d.ID, &d.Kind, &d.Title, &d.Description, &d.ReleaseYear, &d.RequiresSubscription,
		&d.Duration, &thumbnailKey, &d.ViewCount, &d.PublishedAt, &d.Status, &categorySlug, &categoryName,
		&d.AverageRating, &d.RatingCount, &d.EpisodeCount)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "videos: get", err, "video_id", id)
		return
	}

	admin := auth.IsAdmin(r.Context())
	if d.Status != statusReady && !admin {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	if !admin {
		d.Status = ""
	}
	d.ThumbnailURL = h.imageURL(r.Context(), thumbnailKey)
	d.Category = categoryFrom(categorySlug, categoryName)
	d.AverageRating = roundRating(d.AverageRating)

	d.Subtitles, err = h.listSubtitles(r.Context(), "video_id", id)
	if err != nil {
		httputil.InternalError(w, r, "videos: list subtitles", err, "video_id", id)
		return
	}

	if userID := auth.UserIDFromContext(r.Context()); userID != "" {
		err := h.db.QueryRow(r.Context(),
			`SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND video_id = $2),
			        (SELECT score FROM ratings WHERE user_id = $1 AND video_id = $2)`,
			userID, id,
		).Scan(&d.Favorite, &d.MyRating)
		if err != nil {
			httputil.InternalError(w, r, "videos: load viewer state", err, "video_id", id)
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, d)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
