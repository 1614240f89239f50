package video

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/validate"
)

type episodeItem struct {
	ID            string     `json:"id"`
	VideoID       string     `json:"videoId"`
	SeasonNumber  int        `json:"seasonNumber"`
	EpisodeNumber int        `json:"episodeNumber"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Duration      int        `json:"duration"`
	ThumbnailURL  string     `json:"thumbnailUrl"`
	PublishedAt   *time.Time `json:"publishedAt"`
	Status        string     `json:"status,omitempty"`
}

func (h *Handler) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	admin := auth.IsAdmin(r.Context())

	var kind, status string
	err := h.db.QueryRow(r.Context(),
		"SELECT kind, status FROM videos WHERE id = $1 AND status != 'deleted'",
		videoID,
	).Scan(&kind, &status)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && status != statusReady && !admin) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "episodes: load series", err, "video_id", videoID)
		return
	}
	if kind != videoKindSeries {
		httputil.WriteJSON(w, http.StatusOK, []episodeItem{})
		return
	}

	where := "video_id = $1 AND status = 'ready'"
	if admin {
		where = "video_id = $1 AND status != 'deleted'"
	}
	args := []any{videoID}
	if s := r.URL.Query().Get("season"); s != "" {
		season, err := strconv.Atoi(s)
		if err != nil || season < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "season must be a positive number")
			return
		}
		args = append(args, season)
		where += " AND season_number = $2"
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT id, video_id, season_number, episode_number, title, description, duration,
		        thumbnail_key, published_at, status
		 FROM episodes WHERE `+where+`
		 ORDER BY season_number, episode_number`,
		args...,
	)
	if err != nil {
		httputil.InternalError(w, r, "episodes: list", err, "video_id", videoID)
		return
	}
	defer rows.Close()

	items := []episodeItem{}
	for rows.Next() {
		var e episodeItem
		var thumbnailKey *string
		if err := rows.Scan(&e.ID, &e.VideoID, &e.SeasonNumber, &e.EpisodeNumber, &e.Title, &e.Description,
			&e.Duration, &thumbnailKey, &e.PublishedAt, &e.Status); err != nil {
			httputil.InternalError(w, r, "episodes: scan", err)
			return
		}
		e.ThumbnailURL = h.imageURL(r.Context(), thumbnailKey)
		if !admin {
			e.Status = ""
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "episodes: iterate", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

type episodeDetail struct {
	episodeItem
	SeriesTitle          string         `json:"seriesTitle"`
	RequiresSubscription bool           `json:"requiresSubscription"`
	Subtitles            []subtitleItem `json:"subtitles"`
}

func (h *Handler) GetEpisode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid episode id")
		return
	}

	var d episodeDetail
	var thumbnailKey *string
	var seriesStatus string
	err := h.db.QueryRow(r.Context(),
		`SELECT e.id, e.video_id, e.season_number, e.episode_number, e.title, e.description, e.duration,
		        e.thumbnail_key, e.published_at, e.status, v.title, v.requires_subscription, v.status
		 FROM episodes e
		 JOIN videos v ON v.id = e.video_id
		 WHERE e.id = $1 AND e.status != 'deleted' AND v.status != 'deleted'`,
		id,
	).Scan(&d.ID, &d.VideoID, &d.SeasonNumber, &d.EpisodeNumber, &d.Title, &d.Description, &d.Duration,
		&thumbnailKey, &d.PublishedAt, &d.Status, &d.SeriesTitle, &d.RequiresSubscription, &seriesStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "episode not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "episodes: get", err, "episode_id", id)
		return
	}
	if !auth.IsAdmin(r.Context()) {
		if d.Status != statusReady || seriesStatus != statusReady {
			httputil.WriteError(w, http.StatusNotFound, "episode not found")
			return
		}
		d.Status = ""
	}
	d.ThumbnailURL = h.imageURL(r.Context(), thumbnailKey)

	d.Subtitles, err = h.listSubtitles(r.Context(), "episode_id", id)
	if err != nil {
		httputil.InternalError(w, r, "episodes: list subtitles", err, "episode_id", id)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, d)
}

type createEpisodeRequest struct {
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	FileSize      int64  `json:"fileSize"`
	ContentType   string `json:"contentType"`
}

func (h *Handler) AdminCreateEpisode(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	var req createEpisodeRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.SeasonNumber < 1 || req.EpisodeNumber < 1 {
		httputil.WriteError(w, http.StatusBadRequest, "seasonNumber and episodeNumber must be positive")
		return
	}
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	for _, msg := range []string{
		validate.Title(req.Title),
		validate.Description(req.Description),
		h.validateUpload(req.FileSize, req.ContentType),
	} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	var kind string
	err := h.db.QueryRow(r.Context(),
		"SELECT kind FROM videos WHERE id = $1 AND status != 'deleted'",
		videoID,
	).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "episodes: load series", err, "video_id", videoID)
		return
	}
	if kind != videoKindSeries {
		httputil.WriteError(w, http.StatusBadRequest, "episodes can only be added to a series")
		return
	}

	id := uuid.NewString()
	fileKey := sourceFileKey(kindEpisode, id, req.ContentType)
	if _, err := h.db.Exec(r.Context(),
		`INSERT INTO episodes (id, video_id, season_number, episode_number, title, description, file_key, file_size, content_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, videoID, req.SeasonNumber, req.EpisodeNumber, req.Title, req.Description, fileKey, req.FileSize, req.ContentType,
	); err != nil {
		if database.IsUniqueViolation(err) {
			httputil.WriteError(w, http.StatusConflict, fmt.Sprintf("season %d episode %d already exists", req.SeasonNumber, req.EpisodeNumber))
			return
		}
		httputil.InternalError(w, r, "episodes: create", err, "video_id", videoID)
		return
	}

	uploadURL, err := h.storage.GenerateUploadURL(r.Context(), fileKey, req.ContentType, req.FileSize, uploadURLExpiry)
	if err != nil {
		httputil.InternalError(w, r, "episodes: presign upload", err, "episode_id", id)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createMediaResponse{ID: id, Status: statusUploading, UploadURL: uploadURL})
}

func (h *Handler) AdminCompleteEpisode(w http.ResponseWriter, r *http.Request) {
	h.completeUpload(w, r, kindEpisode)
}

type updateEpisodeRequest struct {
	SeasonNumber  *int    `json:"seasonNumber"`
	EpisodeNumber *int    `json:"episodeNumber"`
	Title         *string `json:"title"`
	Description   *string `json:"description"`
}

func (h *Handler) AdminUpdateEpisode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid episode id")
		return
	}

	var req updateEpisodeRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}

	var b setBuilder
	if req.SeasonNumber != nil {
		if *req.SeasonNumber < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "seasonNumber must be positive")
			return
		}
		b.add("season_number", *req.SeasonNumber)
	}
	if req.EpisodeNumber != nil {
		if *req.EpisodeNumber < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "episodeNumber must be positive")
			return
		}
		b.add("episode_number", *req.EpisodeNumber)
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			httputil.WriteError(w, http.StatusBadRequest, "title is required")
			return
		}
		if msg := validate.Title(title); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		b.add("title", title)
	}
	if req.Description != nil {
		if msg := validate.Description(*req.Description); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		b.add("description", *req.Description)
	}
	if b.empty() {
		httputil.WriteError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	query, args := b.update("episodes", id)
	tag, err := h.db.Exec(r.Context(), query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			httputil.WriteError(w, http.StatusConflict, "another episode already uses this season and episode number")
			return
		}
		httputil.InternalError(w, r, "episodes: update", err, "episode_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "episode not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdminDeleteEpisode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid episode id")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		"UPDATE episodes SET status = 'deleted', updated_at = now() WHERE id = $1 AND status != 'deleted'",
		id,
	)
	if err != nil {
		httputil.InternalError(w, r, "episodes: delete", err, "episode_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "episode not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
