package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/validate"
	"golang.org/x/crypto/bcrypt"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
	maxAuthBodyBytes  = 16 << 10
)

type EmailSender interface {
	SendWelcome(ctx context.Context, toEmail, toName, browseURL string) error
	SendPasswordReset(ctx context.Context, toEmail, toName, resetLink string) error
}

// LoginGuard throttles repeated failed logins per email.
type LoginGuard interface {
	Locked(ctx context.Context, email string) (bool, int)
	RecordFailure(ctx context.Context, email string)
	Reset(ctx context.Context, email string)
}

type Handler struct {
	db            database.DBTX
	jwtSecret     string
	secureCookies bool
	emailSender   EmailSender
	baseURL       string
	loginGuard    LoginGuard
}

func NewHandler(db database.DBTX, jwtSecret string, secureCookies bool) *Handler {
	return &Handler{db: db, jwtSecret: jwtSecret, secureCookies: secureCookies}
}

func (h *Handler) SetEmailSender(sender EmailSender, baseURL string) {
	h.emailSender = sender
	h.baseURL = strings.TrimRight(baseURL, "/")
}

func (h *Handler) SetLoginGuard(g LoginGuard) {
	h.loginGuard = g
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.DecodeJSON(w, r, &req, maxAuthBodyBytes) {
		return
	}

	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email, password, and name are required")
		return
	}
	if msg := validate.Email(req.Email); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.Password(req.Password); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.Name(req.Name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.InternalError(w, r, "auth: hash password", err)
		return
	}

	var userID, role string
	err = h.db.QueryRow(r.Context(),
		"INSERT INTO users (email, password, name) VALUES ($1, $2, $3) RETURNING id, role",
		req.Email, string(hashedPassword), req.Name,
	).Scan(&userID, &role)
	if err != nil {
		if database.IsUniqueViolation(err) {
			httputil.WriteError(w, http.StatusConflict, "an account with this email already exists")
			return
		}
		httputil.InternalError(w, r, "auth: create user", err)
		return
	}

	accessToken, refreshToken, err := h.issueTokens(r.Context(), userID, role)
	if err != nil {
		httputil.InternalError(w, r, "auth: issue tokens", err, "user_id", userID)
		return
	}

	if h.emailSender != nil {
		if err := h.emailSender.SendWelcome(r.Context(), req.Email, req.Name, h.baseURL+"/browse"); err != nil {
			slog.Error("auth: failed to send welcome email", "user_id", userID, "error", err)
		}
	}

	h.setRefreshTokenCookie(w, refreshToken)
	httputil.WriteJSON(w, http.StatusCreated, tokenResponse{AccessToken: accessToken})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeJSON(w, r, &req, maxAuthBodyBytes) {
		return
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if h.loginGuard != nil {
		if locked, secs := h.loginGuard.Locked(r.Context(), req.Email); locked {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			httputil.WriteError(w, http.StatusTooManyRequests, "too many failed login attempts, try again later")
			return
		}
	}

	var userID, hashedPassword, role string
	err := h.db.QueryRow(r.Context(),
		"SELECT id, password, role FROM users WHERE email = $1", req.Email,
	).Scan(&userID, &hashedPassword, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		h.recordLoginFailure(r.Context(), req.Email)
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "auth: look up user", err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		h.recordLoginFailure(r.Context(), req.Email)
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if h.loginGuard != nil {
		h.loginGuard.Reset(r.Context(), req.Email)
	}

	accessToken, refreshToken, err := h.issueTokens(r.Context(), userID, role)
	if err != nil {
		httputil.InternalError(w, r, "auth: issue tokens", err, "user_id", userID)
		return
	}

	h.setRefreshTokenCookie(w, refreshToken)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken})
}

func (h *Handler) recordLoginFailure(ctx context.Context, email string) {
	if h.loginGuard != nil {
		h.loginGuard.RecordFailure(ctx, email)
	}
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "refresh token not found")
		return
	}

	claims, err := ValidateToken(h.jwtSecret, cookie.Value)
	if err != nil || claims.TokenType != tokenTypeRefresh || claims.TokenID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	role, err := h.validateStoredRefreshToken(r.Context(), claims.UserID, claims.TokenID)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	if err := h.revokeRefreshToken(r.Context(), claims.TokenID); err != nil {
		httputil.InternalError(w, r, "auth: revoke refresh token", err)
		return
	}

	accessToken, refreshToken, err := h.issueTokens(r.Context(), claims.UserID, role)
	if err != nil {
		httputil.InternalError(w, r, "auth: issue tokens", err, "user_id", claims.UserID)
		return
	}

	h.setRefreshTokenCookie(w, refreshToken)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if claims, err := ValidateToken(h.jwtSecret, cookie.Value); err == nil && claims.TokenType == tokenTypeRefresh && claims.TokenID != "" {
			if err := h.revokeRefreshToken(r.Context(), claims.TokenID); err != nil {
				slog.Warn("auth: failed to revoke refresh token on logout", "error", err)
			}
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRefreshTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(RefreshTokenDuration / time.Second),
	})
}

func (h *Handler) issueTokens(ctx context.Context, userID, role string) (accessToken, refreshToken string, err error) {
	tokenID := uuid.NewString()

	expiresAt := time.Now().Add(RefreshTokenDuration)
	if _, err := h.db.Exec(ctx, "INSERT INTO refresh_tokens (token_id, user_id, expires_at, revoked) VALUES ($1, $2, $3, false)", tokenID, userID, expiresAt); err != nil {
		return "", "", err
	}

	accessToken, err = GenerateAccessToken(h.jwtSecret, userID, role)
	if err != nil {
		return "", "", err
	}

	refreshToken, err = GenerateRefreshToken(h.jwtSecret, userID, tokenID)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (h *Handler) validateStoredRefreshToken(ctx context.Context, userID, tokenID string) (string, error) {
	var revoked bool
	var expiresAt time.Time
	var role string
	err := h.db.QueryRow(ctx,
		`SELECT rt.revoked, rt.expires_at, u.role FROM refresh_tokens rt
		 JOIN users u ON u.id = rt.user_id
		 WHERE rt.token_id = $1 AND rt.user_id = $2`,
		tokenID, userID,
	).Scan(&revoked, &expiresAt, &role)
	if err != nil {
		return "", err
	}
	if revoked || time.Now().After(expiresAt) {
		return "", errors.New("token revoked or expired")
	}
	return role, nil
}

func (h *Handler) revokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := h.db.Exec(ctx, "UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE token_id = $1", tokenID)
	return err
}
