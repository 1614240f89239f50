// Package user serves the caller's profile and the admin user directory.
package user

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/plans"
	"github.com/vidstream/vidstream/internal/validate"
	"golang.org/x/crypto/bcrypt"
)

const maxBodyBytes = 16 << 10

type Handler struct {
	db database.DBTX
}

func NewHandler(db database.DBTX) *Handler {
	return &Handler{db: db}
}

type profileResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	Plan          string    `json:"plan"`
	PlanName      string    `json:"planName"`
	PremiumAccess bool      `json:"premiumAccess"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var p profileResponse
	err := h.db.QueryRow(r.Context(),
		"SELECT id, email, name, role, subscription_plan, created_at FROM users WHERE id = $1",
		userID,
	).Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.Plan, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "user: load profile", err, "user_id", userID)
		return
	}
	p.PlanName = plans.Name(p.Plan)
	p.PremiumAccess = plans.HasPremiumAccess(p.Plan)

	httputil.WriteJSON(w, http.StatusOK, p)
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req updateProfileRequest
	if !httputil.DecodeJSON(w, r, &req, maxBodyBytes) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if msg := validate.Name(req.Name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	tag, err := h.db.Exec(r.Context(),
		"UPDATE users SET name = $1, updated_at = now() WHERE id = $2",
		req.Name, userID,
	)
	if err != nil {
		httputil.InternalError(w, r, "user: update profile", err, "user_id", userID)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword verifies the current password, stores the new hash and
// signs the user out of every other session.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req changePasswordRequest
	if !httputil.DecodeJSON(w, r, &req, maxBodyBytes) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.WriteError(w, http.StatusBadRequest, "current and new password are required")
		return
	}
	if msg := validate.Password(req.NewPassword); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var current string
	err := h.db.QueryRow(r.Context(), "SELECT password FROM users WHERE id = $1", userID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "user: load password", err, "user_id", userID)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(current), []byte(req.CurrentPassword)) != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		httputil.InternalError(w, r, "user: hash password", err)
		return
	}
	if _, err := h.db.Exec(r.Context(),
		"UPDATE users SET password = $1, updated_at = now() WHERE id = $2",
		string(hashed), userID,
	); err != nil {
		httputil.InternalError(w, r, "user: update password", err, "user_id", userID)
		return
	}
	if err := auth.RevokeAllRefreshTokens(r.Context(), h.db, userID); err != nil {
		httputil.InternalError(w, r, "user: revoke sessions", err, "user_id", userID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type adminUserItem struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
}

type adminUserList struct {
	Users []adminUserItem `json:"users"`
	Total int64           `json:"total"`
}

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePage(r, 50, 200)
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	pattern := "%"
	if q != "" {
		pattern = "%" + escapeLike(q) + "%"
	}

	var total int64
	if err := h.db.QueryRow(r.Context(),
		"SELECT COUNT(*) FROM users WHERE email ILIKE $1 OR name ILIKE $1",
		pattern,
	).Scan(&total); err != nil {
		httputil.InternalError(w, r, "user: count users", err)
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT id, email, name, role, subscription_plan, created_at
		 FROM users
		 WHERE email ILIKE $1 OR name ILIKE $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		pattern, page.Limit, page.Offset,
	)
	if err != nil {
		httputil.InternalError(w, r, "user: list users", err)
		return
	}
	defer rows.Close()

	resp := adminUserList{Users: []adminUserItem{}, Total: total}
	for rows.Next() {
		var u adminUserItem
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Plan, &u.CreatedAt); err != nil {
			httputil.InternalError(w, r, "user: scan user", err)
			return
		}
		resp.Users = append(resp.Users, u)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "user: iterate users", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) AdminSetRole(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	if uuid.Validate(targetID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req setRoleRequest
	if !httputil.DecodeJSON(w, r, &req, maxBodyBytes) {
		return
	}
	if req.Role != auth.RoleUser && req.Role != auth.RoleAdmin {
		httputil.WriteError(w, http.StatusBadRequest, "role must be user or admin")
		return
	}
	if targetID == auth.UserIDFromContext(r.Context()) && req.Role != auth.RoleAdmin {
		httputil.WriteError(w, http.StatusBadRequest, "cannot remove your own admin role")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		"UPDATE users SET role = $1, updated_at = now() WHERE id = $2",
		req.Role, targetID,
	)
	if err != nil {
		httputil.InternalError(w, r, "user: set role", err, "target_id", targetID)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}

	// Outstanding access tokens still carry the old role until they expire.
	if err := auth.RevokeAllRefreshTokens(r.Context(), h.db, targetID); err != nil {
		httputil.InternalError(w, r, "user: revoke sessions after role change", err, "target_id", targetID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	if uuid.Validate(targetID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if targetID == auth.UserIDFromContext(r.Context()) {
		httputil.WriteError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	tag, err := h.db.Exec(r.Context(), "DELETE FROM users WHERE id = $1", targetID)
	if err != nil {
		httputil.InternalError(w, r, "user: delete user", err, "target_id", targetID)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
