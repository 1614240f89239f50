package video

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/metrics"
	"github.com/vidstream/vidstream/internal/plans"
	"github.com/vidstream/vidstream/internal/storage"
)

const streamContentType = "video/mp4"

var errBadStreamToken = errors.New("invalid stream token")

type streamClaims struct {
	Kind    mediaKind
	MediaID string
	UserID  string
	Expires time.Time
}

func (h *Handler) signStream(payload string) []byte {
	mac := hmac.New(sha256.New, h.streamSecret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// issueStreamToken encodes kind.id.user.exp and its HMAC-SHA256 as two
// base64url segments.
func (h *Handler) issueStreamToken(c streamClaims) string {
	payload := fmt.Sprintf("%s.%s.%s.%d", c.Kind, c.MediaID, c.UserID, c.Expires.Unix())
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(payload)) + "." + enc.EncodeToString(h.signStream(payload))
}

func (h *Handler) parseStreamToken(token string) (streamClaims, error) {
	enc := base64.RawURLEncoding
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return streamClaims{}, errBadStreamToken
	}
	payload, err := enc.DecodeString(payloadPart)
	if err != nil {
		return streamClaims{}, errBadStreamToken
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return streamClaims{}, errBadStreamToken
	}
	if !hmac.Equal(sig, h.signStream(string(payload))) {
		return streamClaims{}, errBadStreamToken
	}

	parts := strings.Split(string(payload), ".")
	if len(parts) != 4 {
		return streamClaims{}, errBadStreamToken
	}
	exp, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return streamClaims{}, errBadStreamToken
	}
	c := streamClaims{Kind: mediaKind(parts[0]), MediaID: parts[1], UserID: parts[2], Expires: time.Unix(exp, 0)}
	if !c.Kind.valid() || uuid.Validate(c.MediaID) != nil {
		return streamClaims{}, errBadStreamToken
	}
	if !h.now().Before(c.Expires) {
		return streamClaims{}, fmt.Errorf("%w: expired", errBadStreamToken)
	}
	return c, nil
}

type streamTokenResponse struct {
	Token       string    `json:"token"`
	StreamURL   string    `json:"streamUrl"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ChunkSize   int64     `json:"chunkSize"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *Handler) CreateVideoStream(w http.ResponseWriter, r *http.Request) {
	h.createStream(w, r, kindVideo)
}

func (h *Handler) CreateEpisodeStream(w http.ResponseWriter, r *http.Request) {
	h.createStream(w, r, kindEpisode)
}

type streamTarget struct {
	videoKind            string
	status               string
	requiresSubscription bool
	size                 int64
}

func (h *Handler) loadStreamTarget(ctx context.Context, kind mediaKind, id string) (streamTarget, error) {
	var t streamTarget
	if kind == kindEpisode {
		t.videoKind = videoKindSeries
		err := h.db.QueryRow(ctx,
			`SELECT CASE WHEN v.status = 'ready' THEN e.status ELSE v.status END, v.requires_subscription, e.file_size
			 FROM episodes e
			 JOIN videos v ON v.id = e.video_id
			 WHERE e.id = $1 AND e.status != 'deleted' AND v.status != 'deleted'`,
			id,
		).Scan(&t.status, &t.requiresSubscription, &t.size)
		return t, err
	}
	err := h.db.QueryRow(ctx,
		"SELECT kind, status, requires_subscription, file_size FROM videos WHERE id = $1 AND status != 'deleted'",
		id,
	).Scan(&t.videoKind, &t.status, &t.requiresSubscription, &t.size)
	return t, err
}

func (h *Handler) createStream(w http.ResponseWriter, r *http.Request, kind mediaKind) {
	userID := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid "+string(kind)+" id")
		return
	}

	target, err := h.loadStreamTarget(r.Context(), kind, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, string(kind)+" not found")
			return
		}
		httputil.InternalError(w, r, "stream: load media", err, "kind", kind, "id", id)
		return
	}
	if kind == kindVideo && target.videoKind == videoKindSeries {
		httputil.WriteError(w, http.StatusBadRequest, "series are streamed per episode")
		return
	}
	if target.status != statusReady {
		httputil.WriteError(w, http.StatusConflict, string(kind)+" is not ready")
		return
	}

	if target.requiresSubscription && !auth.IsAdmin(r.Context()) {
		var plan string
		if err := h.db.QueryRow(r.Context(),
			"SELECT subscription_plan FROM users WHERE id = $1",
			userID,
		).Scan(&plan); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				httputil.WriteError(w, http.StatusUnauthorized, "user not found")
				return
			}
			httputil.InternalError(w, r, "stream: load plan", err, "user_id", userID)
			return
		}
		if !plans.HasPremiumAccess(plan) {
			httputil.WriteError(w, http.StatusForbidden, "an active subscription is required")
			return
		}
	}

	expires := h.now().Add(h.tokenTTL).Truncate(time.Second)
	token := h.issueStreamToken(streamClaims{Kind: kind, MediaID: id, UserID: userID, Expires: expires})
	metrics.StreamTokens.WithLabelValues(string(kind)).Inc()

	httputil.WriteJSON(w, http.StatusOK, streamTokenResponse{
		Token:       token,
		StreamURL:   h.baseURL + "/api/stream/" + token,
		ContentType: streamContentType,
		Size:        target.size,
		ChunkSize:   h.chunkBytes,
		ExpiresAt:   expires.UTC(),
	})
}

// parseByteRange accepts a single "bytes=start-end" or "bytes=start-" range.
// end is -1 when open.
func parseByteRange(header string) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found || first == "" {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if last == "" {
		return start, -1, true
	}
	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

func writeUnsatisfiable(w http.ResponseWriter, size int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	httputil.WriteError(w, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")
}

// ServeStream proxies one bounded byte range of the transcoded file.
// The token is checked against the caller only when the request carries
// credentials: a signed-in user other than the one it was issued to gets
// 403, while a request with no Authorization header is served on the
// token alone until it expires.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	claims, err := h.parseStreamToken(chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, http.StatusForbidden, "invalid or expired stream token")
		return
	}
	if caller := auth.UserIDFromContext(r.Context()); caller != "" && caller != claims.UserID {
		httputil.WriteError(w, http.StatusForbidden, "stream token belongs to another user")
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		httputil.WriteError(w, http.StatusBadRequest, "range header required")
		return
	}
	start, end, ok := parseByteRange(rangeHeader)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid range header")
		return
	}

	var fileKey string
	var size int64
	err = h.db.QueryRow(r.Context(),
		"SELECT file_key, file_size FROM "+claims.Kind.table()+" WHERE id = $1 AND status = 'ready'",
		claims.MediaID,
	).Scan(&fileKey, &size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, string(claims.Kind)+" not found")
			return
		}
		httputil.InternalError(w, r, "stream: load file", err, "kind", claims.Kind, "id", claims.MediaID)
		return
	}

	if start >= size {
		writeUnsatisfiable(w, size)
		return
	}
	if end < 0 || end >= size {
		end = size - 1
	}
	if end-start+1 > h.chunkBytes {
		end = start + h.chunkBytes - 1
	}

	body, rng, err := h.storage.GetObjectRange(r.Context(), fileKey, start, end)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidRange):
			writeUnsatisfiable(w, size)
		case errors.Is(err, storage.ErrNotFound):
			httputil.WriteError(w, http.StatusNotFound, "stream file not found")
		default:
			httputil.InternalError(w, r, "stream: get range", err, "key", fileKey)
		}
		return
	}
	defer func() { _ = body.Close() }()

	total := rng.Total
	if total <= 0 {
		total = size
	}
	w.Header().Set("Content-Type", streamContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, total))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "inline")
	w.WriteHeader(http.StatusPartialContent)

	n, err := io.Copy(w, body)
	metrics.StreamChunks.WithLabelValues(string(claims.Kind)).Inc()
	metrics.StreamBytes.Add(float64(n))
	if err != nil {
		slog.Warn("stream: copy interrupted", "kind", claims.Kind, "id", claims.MediaID, "written", n, "error", err)
	}
}
