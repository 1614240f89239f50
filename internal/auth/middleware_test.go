package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func identityEcho(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-User", UserIDFromContext(r.Context()))
	w.Header().Set("X-Role", RoleFromContext(r.Context()))
	w.WriteHeader(http.StatusOK)
}

func TestMiddleware(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	access, _ := GenerateAccessToken(testSecret, "user-1", RoleAdmin)
	refresh, _ := GenerateRefreshToken(testSecret, "user-1", "tok")
	foreign, _ := GenerateAccessToken("other-secret", "user-1", RoleUser)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"no header", "", http.StatusUnauthorized, ""},
		{"basic scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"foreign signature", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized, ""},
		{"valid access token", "Bearer " + access, http.StatusOK, "user-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.Middleware(http.HandlerFunc(identityEcho)).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if rec.Header().Get("X-User") != tt.wantUser {
				t.Errorf("expected user %q, got %q", tt.wantUser, rec.Header().Get("X-User"))
			}
		})
	}
}

func TestOptionalMiddleware(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()
	wrapped := handler.OptionalMiddleware(http.HandlerFunc(identityEcho))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-User") != "" {
		t.Errorf("expected anonymous pass-through, got %d user=%q", rec.Code, rec.Header().Get("X-User"))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-User") != "" {
		t.Errorf("expected invalid token to be ignored, got %d user=%q", rec.Code, rec.Header().Get("X-User"))
	}

	access, _ := GenerateAccessToken(testSecret, "user-7", RoleUser)
	req = httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Header().Get("X-User") != "user-7" {
		t.Errorf("expected identity attached, got %q", rec.Header().Get("X-User"))
	}
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		ctx        context.Context
		wantStatus int
	}{
		{"anonymous", context.Background(), http.StatusUnauthorized},
		{"user id only", ContextWithUserID(context.Background(), "u1"), http.StatusForbidden},
		{"regular user", ContextWithIdentity(context.Background(), "u1", RoleUser), http.StatusForbidden},
		{"admin", ContextWithIdentity(context.Background(), "u1", RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil).WithContext(tt.ctx)
			rec := httptest.NewRecorder()
			RequireAdmin(next).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestUserIDFromContext_ReturnsEmptyWhenNotSet(t *testing.T) {
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
	if got := RoleFromContext(context.Background()); got != RoleUser {
		t.Errorf("expected default user role, got %q", got)
	}
}
