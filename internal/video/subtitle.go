package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/languages"
	"github.com/vidstream/vidstream/internal/storage"
	"github.com/vidstream/vidstream/internal/validate"
)

const maxSubtitleBytes = 2 << 20

type subtitleItem struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Label    string `json:"label"`
	URL      string `json:"url"`
}

func subtitleURL(id string) string {
	return "/api/subtitles/" + id + "/file"
}

// listSubtitles returns the tracks attached to a video or an episode.
// column is either "video_id" or "episode_id".
func (h *Handler) listSubtitles(ctx context.Context, column, id string) ([]subtitleItem, error) {
	if column != "video_id" && column != "episode_id" {
		return nil, fmt.Errorf("unknown subtitle owner column %q", column)
	}
	rows, err := h.db.Query(ctx,
		"SELECT id, language, label FROM subtitles WHERE "+column+" = $1 ORDER BY label",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query subtitles: %w", err)
	}
	defer rows.Close()

	items := []subtitleItem{}
	for rows.Next() {
		var s subtitleItem
		if err := rows.Scan(&s.ID, &s.Language, &s.Label); err != nil {
			return nil, fmt.Errorf("scan subtitle: %w", err)
		}
		s.URL = subtitleURL(s.ID)
		items = append(items, s)
	}
	return items, rows.Err()
}

func (h *Handler) ListVideoSubtitles(w http.ResponseWriter, r *http.Request) {
	h.writeSubtitles(w, r, "video_id")
}

func (h *Handler) ListEpisodeSubtitles(w http.ResponseWriter, r *http.Request) {
	h.writeSubtitles(w, r, "episode_id")
}

func (h *Handler) writeSubtitles(w http.ResponseWriter, r *http.Request, column string) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	items, err := h.listSubtitles(r.Context(), column, id)
	if err != nil {
		httputil.InternalError(w, r, "subtitles: list", err, "owner", column, "id", id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) GetSubtitleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid subtitle id")
		return
	}

	var fileKey string
	err := h.db.QueryRow(r.Context(), "SELECT file_key FROM subtitles WHERE id = $1", id).Scan(&fileKey)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "subtitle not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "subtitles: load", err, "subtitle_id", id)
		return
	}

	data, err := h.storage.ReadObject(r.Context(), fileKey, maxSubtitleBytes)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "subtitle file not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "subtitles: read file", err, "subtitle_id", id)
		return
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// AdminUploadSubtitle accepts a multipart form with videoId or episodeId,
// a BCP-47 language, an optional label and an .srt or .vtt file.
func (h *Handler) AdminUploadSubtitle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubtitleBytes+64<<10)
	if err := r.ParseMultipartForm(maxSubtitleBytes); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}

	videoID := strings.TrimSpace(r.FormValue("videoId"))
	episodeID := strings.TrimSpace(r.FormValue("episodeId"))
	if (videoID == "") == (episodeID == "") {
		httputil.WriteError(w, http.StatusBadRequest, "exactly one of videoId or episodeId is required")
		return
	}
	ownerTable, ownerID := "videos", videoID
	if episodeID != "" {
		ownerTable, ownerID = "episodes", episodeID
	}
	if uuid.Validate(ownerID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid videoId or episodeId")
		return
	}

	lang, ok := languages.Normalize(r.FormValue("language"))
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "language must be a valid BCP-47 tag")
		return
	}
	label := strings.TrimSpace(r.FormValue("label"))
	if label == "" {
		label = languages.LanguageName(lang)
	}
	if msg := validate.SubtitleLabel(label); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".srt" && ext != ".vtt" {
		httputil.WriteError(w, http.StatusBadRequest, "file must be .srt or .vtt")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(file, maxSubtitleBytes+1))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(raw) > maxSubtitleBytes {
		httputil.WriteError(w, http.StatusBadRequest, "subtitle file exceeds 2 MiB")
		return
	}
	vtt, err := toWebVTT(raw)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "could not parse subtitle file: "+err.Error())
		return
	}
	if len(vtt) > maxSubtitleBytes {
		httputil.WriteError(w, http.StatusBadRequest, "converted subtitle file exceeds 2 MiB")
		return
	}

	var exists bool
	if err := h.db.QueryRow(r.Context(),
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND status != 'deleted')", ownerTable),
		ownerID,
	).Scan(&exists); err != nil {
		httputil.InternalError(w, r, "subtitles: check owner", err, "owner_id", ownerID)
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, "video or episode not found")
		return
	}

	id := uuid.NewString()
	key := subtitleFileKey(id)
	if err := h.storage.PutObject(r.Context(), key, []byte(vtt), "text/vtt"); err != nil {
		httputil.InternalError(w, r, "subtitles: store file", err, "subtitle_id", id)
		return
	}

	var videoArg, episodeArg *string
	if episodeID != "" {
		episodeArg = &episodeID
	} else {
		videoArg = &videoID
	}
	if _, err := h.db.Exec(r.Context(),
		"INSERT INTO subtitles (id, video_id, episode_id, language, label, file_key) VALUES ($1, $2, $3, $4, $5, $6)",
		id, videoArg, episodeArg, lang, label, key,
	); err != nil {
		if derr := h.storage.DeleteObject(r.Context(), key); derr != nil {
			slog.Error("subtitles: remove orphaned file", "key", key, "error", derr)
		}
		httputil.InternalError(w, r, "subtitles: create", err, "subtitle_id", id)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, subtitleItem{ID: id, Language: lang, Label: label, URL: subtitleURL(id)})
}

func (h *Handler) AdminDeleteSubtitle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid subtitle id")
		return
	}

	var fileKey string
	err := h.db.QueryRow(r.Context(), "DELETE FROM subtitles WHERE id = $1 RETURNING file_key", id).Scan(&fileKey)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "subtitle not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "subtitles: delete", err, "subtitle_id", id)
		return
	}
	if err := h.storage.DeleteObject(r.Context(), fileKey); err != nil {
		slog.Error("subtitles: delete file", "key", fileKey, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
