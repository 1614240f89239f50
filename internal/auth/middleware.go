package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/i18n"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

func (h *Handler) claimsFromRequest(r *http.Request) (*Claims, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, "authorization header required"
	}
	tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return nil, "invalid authorization header format"
	}
	claims, err := ValidateToken(h.jwtSecret, tokenStr)
	if err != nil {
		return nil, "invalid token"
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, "invalid token type"
	}
	return claims, ""
}

// Middleware rejects requests without a valid access token.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, msg := h.claimsFromRequest(r)
		if claims == nil {
			httputil.WriteError(w, http.StatusUnauthorized, msg)
			return
		}
		ctx := ContextWithIdentity(r.Context(), claims.UserID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalMiddleware attaches the caller's identity when a valid access
// token is present and lets anonymous requests through otherwise.
func (h *Handler) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, _ := h.claimsFromRequest(r); claims != nil {
			r = r.WithContext(ContextWithIdentity(r.Context(), claims.UserID, claims.Role))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			httputil.WriteLocalizedError(w, r, http.StatusUnauthorized, i18n.KeyUnauthorized)
			return
		}
		if !IsAdmin(r.Context()) {
			httputil.WriteLocalizedError(w, r, http.StatusForbidden, i18n.KeyForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func ContextWithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	if role == "" {
		return RoleUser
	}
	return role
}

func IsAdmin(ctx context.Context) bool {
	return RoleFromContext(ctx) == RoleAdmin
}
