package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/notify"
	"github.com/vidstream/vidstream/internal/storage"
	"github.com/vidstream/vidstream/internal/validate"
)

const (
	minReleaseYear = 1870
	maxReleaseYear = 2100
	maxPosterBytes = 10 << 20
	publishTimeout = 2 * time.Minute
)

var posterContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type createVideoRequest struct {
	Title                string  `json:"title"`
	Description          string  `json:"description"`
	Kind                 string  `json:"kind"`
	CategoryID           *string `json:"categoryId"`
	ReleaseYear          *int    `json:"releaseYear"`
	RequiresSubscription bool    `json:"requiresSubscription"`
	FileSize             int64   `json:"fileSize"`
	ContentType          string  `json:"contentType"`
}

type createMediaResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UploadURL string `json:"uploadUrl,omitempty"`
}

func validateReleaseYear(y *int) string {
	if y != nil && (*y < minReleaseYear || *y > maxReleaseYear) {
		return fmt.Sprintf("releaseYear must be between %d and %d", minReleaseYear, maxReleaseYear)
	}
	return ""
}

func (h *Handler) validateUpload(fileSize int64, contentType string) string {
	if fileSize <= 0 {
		return "fileSize must be positive"
	}
	if h.maxUploadBytes > 0 && fileSize > h.maxUploadBytes {
		return fmt.Sprintf("file exceeds the %d byte upload limit", h.maxUploadBytes)
	}
	if _, ok := uploadContentTypes[contentType]; !ok {
		return "contentType must be video/mp4, video/quicktime, video/webm or video/x-matroska"
	}
	return ""
}

// AdminCreateVideo registers a title. Movies get a presigned upload URL and
// wait for the upload; series have no file and are published immediately.
func (h *Handler) AdminCreateVideo(w http.ResponseWriter, r *http.Request) {
	var req createVideoRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Kind != videoKindMovie && req.Kind != videoKindSeries {
		httputil.WriteError(w, http.StatusBadRequest, "kind must be movie or series")
		return
	}
	for _, msg := range []string{
		validate.Title(req.Title),
		validate.Description(req.Description),
		validateReleaseYear(req.ReleaseYear),
	} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if req.CategoryID != nil && uuid.Validate(*req.CategoryID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid categoryId")
		return
	}

	id := uuid.NewString()
	resp := createMediaResponse{ID: id, Status: statusUploading}
	var fileKey string
	var publishedAt *time.Time
	if req.Kind == videoKindSeries {
		if req.FileSize != 0 {
			httputil.WriteError(w, http.StatusBadRequest, "series are created without a file")
			return
		}
		now := h.now()
		publishedAt = &now
		resp.Status = statusReady
		req.ContentType = ""
	} else {
		if msg := h.validateUpload(req.FileSize, req.ContentType); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		fileKey = sourceFileKey(kindVideo, id, req.ContentType)
	}

	_, err := h.db.Exec(r.Context(),
		`INSERT INTO videos (id, category_id, kind, title, description, release_year, requires_subscription,
		                     status, file_key, file_size, content_type, created_by, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, req.CategoryID, req.Kind, req.Title, req.Description, req.ReleaseYear, req.RequiresSubscription,
		resp.Status, fileKey, req.FileSize, req.ContentType, auth.UserIDFromContext(r.Context()), publishedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			httputil.WriteError(w, http.StatusBadRequest, "category not found")
			return
		}
		httputil.InternalError(w, r, "videos: create", err)
		return
	}

	if req.Kind == videoKindSeries {
		h.publish(notify.Event{Kind: notify.KindVideo, VideoID: id, Title: req.Title, WatchURL: h.watchURL(id)})
		httputil.WriteJSON(w, http.StatusCreated, resp)
		return
	}

	resp.UploadURL, err = h.storage.GenerateUploadURL(r.Context(), fileKey, req.ContentType, req.FileSize, uploadURLExpiry)
	if err != nil {
		httputil.InternalError(w, r, "videos: presign upload", err, "video_id", id)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) AdminCompleteVideo(w http.ResponseWriter, r *http.Request) {
	h.completeUpload(w, r, kindVideo)
}

// completeUpload checks the uploaded object against the declared size and
// content type and hands the row to the transcode worker.
func (h *Handler) completeUpload(w http.ResponseWriter, r *http.Request, kind mediaKind) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var fileKey, contentType, status string
	var fileSize int64
	err := h.db.QueryRow(r.Context(),
		fmt.Sprintf("SELECT file_key, file_size, content_type, status FROM %s WHERE id = $1 AND status != 'deleted'", kind.table()),
		id,
	).Scan(&fileKey, &fileSize, &contentType, &status)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && fileKey == "") {
		httputil.WriteError(w, http.StatusNotFound, string(kind)+" not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "videos: load upload", err, "kind", kind, "id", id)
		return
	}
	if status != statusUploading {
		httputil.WriteError(w, http.StatusConflict, "upload already completed")
		return
	}

	size, storedType, err := h.storage.HeadObject(r.Context(), fileKey)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, http.StatusBadRequest, "file has not been uploaded")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "videos: head upload", err, "kind", kind, "id", id)
		return
	}
	if size != fileSize {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("uploaded file is %d bytes, expected %d", size, fileSize))
		return
	}
	if storedType != "" && storedType != contentType {
		httputil.WriteError(w, http.StatusBadRequest, "uploaded file content type does not match")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		fmt.Sprintf("UPDATE %s SET status = 'processing', updated_at = now() WHERE id = $1 AND status = 'uploading'", kind.table()),
		id,
	)
	if err != nil {
		httputil.InternalError(w, r, "videos: mark processing", err, "kind", kind, "id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusConflict, "upload already completed")
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": statusProcessing})
}

// setBuilder collects "col = $n" assignments for partial updates.
type setBuilder struct {
	sets []string
	args []any
}

func (b *setBuilder) add(col string, v any) {
	b.args = append(b.args, v)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (b *setBuilder) empty() bool {
	return len(b.sets) == 0
}

// update renders the statement for table with the id as the last argument.
func (b *setBuilder) update(table, id string) (string, []any) {
	args := append(b.args, id)
	return fmt.Sprintf("UPDATE %s SET %s, updated_at = now() WHERE id = $%d AND status != 'deleted'",
		table, strings.Join(b.sets, ", "), len(args)), args
}

type updateVideoRequest struct {
	Title                *string `json:"title"`
	Description          *string `json:"description"`
	CategoryID           *string `json:"categoryId"`
	ReleaseYear          *int    `json:"releaseYear"`
	RequiresSubscription *bool   `json:"requiresSubscription"`
}

func (h *Handler) AdminUpdateVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	var req updateVideoRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}

	var b setBuilder
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
	if req.CategoryID != nil {
		// An empty id removes the category.
		if *req.CategoryID == "" {
			b.add("category_id", nil)
		} else if uuid.Validate(*req.CategoryID) != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid categoryId")
			return
		} else {
			b.add("category_id", *req.CategoryID)
		}
	}
	if req.ReleaseYear != nil {
		if msg := validateReleaseYear(req.ReleaseYear); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		b.add("release_year", *req.ReleaseYear)
	}
	if req.RequiresSubscription != nil {
		b.add("requires_subscription", *req.RequiresSubscription)
	}
	if b.empty() {
		httputil.WriteError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	query, args := b.update("videos", id)
	tag, err := h.db.Exec(r.Context(), query, args...)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			httputil.WriteError(w, http.StatusBadRequest, "category not found")
			return
		}
		httputil.InternalError(w, r, "videos: update", err, "video_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdminDeleteVideo soft-deletes a title and its episodes. Stored files are
// removed later by the purge loop.
func (h *Handler) AdminDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		"UPDATE videos SET status = 'deleted', updated_at = now() WHERE id = $1 AND status != 'deleted'",
		id,
	)
	if err != nil {
		httputil.InternalError(w, r, "videos: delete", err, "video_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		"UPDATE episodes SET status = 'deleted', updated_at = now() WHERE video_id = $1 AND status != 'deleted'",
		id,
	); err != nil {
		httputil.InternalError(w, r, "videos: delete episodes", err, "video_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type posterRequest struct {
	ContentType string `json:"contentType"`
	FileSize    int64  `json:"fileSize"`
}

func (h *Handler) AdminVideoThumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	var req posterRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	ext, ok := posterContentTypes[req.ContentType]
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "contentType must be image/jpeg, image/png or image/webp")
		return
	}
	if req.FileSize <= 0 || req.FileSize > maxPosterBytes {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("fileSize must be between 1 and %d bytes", maxPosterBytes))
		return
	}

	key := strings.TrimSuffix(posterFileKey(id), ".jpg") + ext
	tag, err := h.db.Exec(r.Context(),
		"UPDATE videos SET thumbnail_key = $1, updated_at = now() WHERE id = $2 AND status != 'deleted'",
		key, id,
	)
	if err != nil {
		httputil.InternalError(w, r, "videos: set poster", err, "video_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	uploadURL, err := h.storage.GenerateUploadURL(r.Context(), key, req.ContentType, req.FileSize, uploadURLExpiry)
	if err != nil {
		httputil.InternalError(w, r, "videos: presign poster", err, "video_id", id)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"uploadUrl": uploadURL})
}

// publish fans a publish event out in the background.
func (h *Handler) publish(e notify.Event) {
	if h.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := h.publisher.Publish(ctx, e); err != nil {
			slog.Error("videos: publish notification", "video_id", e.VideoID, "episode_id", e.EpisodeID, "error", err)
		}
	}()
}
