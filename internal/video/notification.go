package video

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/notify"
	"github.com/vidstream/vidstream/internal/validate"
)

type notificationItem struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Link      string     `json:"link"`
	ReadAt    *time.Time `json:"readAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ListNotifications returns the caller's inbox, newest first. ?unread=true
// hides read entries.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	page := httputil.ParsePage(r, 50, 200)

	filter := ""
	if r.URL.Query().Get("unread") == "true" {
		filter = " AND read_at IS NULL"
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT id, title, body, link, read_at, created_at
		 FROM notifications
		 WHERE user_id = $1`+filter+`
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		httputil.InternalError(w, r, "notifications: list", err, "user_id", userID)
		return
	}
	defer rows.Close()

	items := []notificationItem{}
	for rows.Next() {
		var n notificationItem
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Link, &n.ReadAt, &n.CreatedAt); err != nil {
			httputil.InternalError(w, r, "notifications: scan", err)
			return
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "notifications: iterate", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) UnreadNotificationCount(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var count int64
	if err := h.db.QueryRow(r.Context(),
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL",
		userID,
	).Scan(&count); err != nil {
		httputil.InternalError(w, r, "notifications: unread count", err, "user_id", userID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		"UPDATE notifications SET read_at = COALESCE(read_at, now()) WHERE id = $1 AND user_id = $2",
		id, userID,
	)
	if err != nil {
		httputil.InternalError(w, r, "notifications: mark read", err, "notification_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	if _, err := h.db.Exec(r.Context(),
		"UPDATE notifications SET read_at = now() WHERE user_id = $1 AND read_at IS NULL",
		userID,
	); err != nil {
		httputil.InternalError(w, r, "notifications: mark all read", err, "user_id", userID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	tag, err := h.db.Exec(r.Context(), "DELETE FROM notifications WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		httputil.InternalError(w, r, "notifications: delete", err, "notification_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link"`
}

// AdminBroadcast writes one notification per user.
func (h *Handler) AdminBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	for _, msg := range []string{
		validate.NotificationTitle(req.Title),
		validate.NotificationBody(req.Body),
		validate.Link(req.Link),
	} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	sent, err := notify.Broadcast(r.Context(), h.db, req.Title, req.Body, req.Link)
	if err != nil {
		httputil.InternalError(w, r, "notifications: broadcast", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{"recipients": sent})
}
