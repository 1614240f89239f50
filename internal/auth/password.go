package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/validate"
	"golang.org/x/crypto/bcrypt"
)

const passwordResetTTL = time.Hour

const forgotPasswordMessage = "If an account exists for that email, a reset link has been sent."

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// generateSecureToken returns a random token and the hex SHA-256 digest
// stored in its place.
func generateSecureToken() (raw string, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !httputil.DecodeJSON(w, r, &req, maxAuthBodyBytes) {
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.startPasswordReset(r.Context(), email); err != nil {
		slog.Error("auth: password reset request failed", "error", err)
	}

	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: forgotPasswordMessage})
}

func (h *Handler) startPasswordReset(ctx context.Context, email string) error {
	var userID, name string
	err := h.db.QueryRow(ctx, "SELECT id, name FROM users WHERE email = $1", email).Scan(&userID, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := h.db.Exec(ctx,
		"UPDATE password_resets SET used_at = now() WHERE user_id = $1 AND used_at IS NULL",
		userID,
	); err != nil {
		return err
	}

	rawToken, tokenHash, err := generateSecureToken()
	if err != nil {
		return err
	}

	if _, err := h.db.Exec(ctx,
		"INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES ($1, $2, $3)",
		tokenHash, userID, time.Now().Add(passwordResetTTL),
	); err != nil {
		return err
	}

	if h.emailSender == nil {
		slog.Warn("auth: no email sender configured, reset link not delivered", "user_id", userID)
		return nil
	}
	link := h.baseURL + "/reset-password?token=" + url.QueryEscape(rawToken)
	if err := h.emailSender.SendPasswordReset(ctx, email, name, link); err != nil {
		slog.Error("auth: failed to send password reset email", "user_id", userID, "error", err)
	}
	return nil
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !httputil.DecodeJSON(w, r, &req, maxAuthBodyBytes) {
		return
	}
	if req.Token == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token and password are required")
		return
	}
	if msg := validate.Password(req.Password); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.InternalError(w, r, "auth: hash password", err)
		return
	}

	// The token is consumed by the same statement that replaces the password.
	var userID string
	err = h.db.QueryRow(r.Context(),
		`WITH consumed AS (
		   UPDATE password_resets SET used_at = now()
		    WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()
		   RETURNING user_id
		 )
		 UPDATE users SET password = $2, updated_at = now()
		   FROM consumed WHERE users.id = consumed.user_id
		 RETURNING users.id`,
		hashToken(req.Token), string(hashed),
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid or expired reset link")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "auth: reset password", err)
		return
	}

	if err := RevokeAllRefreshTokens(r.Context(), h.db, userID); err != nil {
		httputil.InternalError(w, r, "auth: revoke sessions", err, "user_id", userID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset. Please sign in."})
}

// RevokeAllRefreshTokens signs the user out of every session.
func RevokeAllRefreshTokens(ctx context.Context, db database.DBTX, userID string) error {
	_, err := db.Exec(ctx, "UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE user_id = $1 AND revoked = false", userID)
	return err
}
