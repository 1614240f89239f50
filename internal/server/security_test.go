package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vidstream/vidstream/internal/httputil"
)

func serveWithSecurity(cfg SecurityConfig, inner http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(cfg)(inner).ServeHTTP(rec, req)
	return rec
}

func TestSecurityHeaders_CSPContainsNonce(t *testing.T) {
	var capturedNonce string
	rec := serveWithSecurity(SecurityConfig{BaseURL: "https://app.test"}, func(w http.ResponseWriter, r *http.Request) {
		capturedNonce = httputil.Nonce(r.Context())
	})

	if capturedNonce == "" {
		t.Fatal("expected non-empty nonce in context")
	}
	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "'nonce-"+capturedNonce+"'") {
		t.Errorf("CSP should contain nonce, got: %s", csp)
	}
	if strings.Contains(csp, "'unsafe-inline'") {
		t.Errorf("CSP should not contain 'unsafe-inline', got: %s", csp)
	}
}

func TestSecurityHeaders_UniqueNoncePerRequest(t *testing.T) {
	var nonces []string
	for i := 0; i < 3; i++ {
		serveWithSecurity(SecurityConfig{}, func(w http.ResponseWriter, r *http.Request) {
			nonces = append(nonces, httputil.Nonce(r.Context()))
		})
	}
	if nonces[0] == nonces[1] || nonces[1] == nonces[2] {
		t.Errorf("expected unique nonces per request, got %v", nonces)
	}
}

func TestSecurityHeaders_StorageEndpoint(t *testing.T) {
	rec := serveWithSecurity(SecurityConfig{
		BaseURL:         "https://app.test",
		StorageEndpoint: "https://storage.example.com",
	}, func(http.ResponseWriter, *http.Request) {})

	csp := rec.Header().Get("Content-Security-Policy")
	for _, want := range []string{
		"img-src 'self' data: https://storage.example.com",
		"connect-src 'self' https://storage.example.com",
		"media-src 'self' blob:;",
	} {
		if !strings.Contains(csp, want) {
			t.Errorf("CSP should contain %q, got: %s", want, csp)
		}
	}
}

func TestSecurityHeaders_OmitsStorageWhenEmpty(t *testing.T) {
	rec := serveWithSecurity(SecurityConfig{BaseURL: "https://app.test"}, func(http.ResponseWriter, *http.Request) {})

	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "connect-src 'self';") {
		t.Errorf("CSP connect-src should be just 'self' when no storage endpoint, got: %s", csp)
	}
}

func TestSecurityHeaders_PermissionsPolicyDeniesCapture(t *testing.T) {
	rec := serveWithSecurity(SecurityConfig{}, func(http.ResponseWriter, *http.Request) {})

	pp := rec.Header().Get("Permissions-Policy")
	if !strings.Contains(pp, "camera=()") || !strings.Contains(pp, "microphone=()") {
		t.Errorf("Permissions-Policy should deny camera and microphone, got: %s", pp)
	}
	if !strings.Contains(pp, "fullscreen=(self)") {
		t.Errorf("Permissions-Policy should allow fullscreen for the player, got: %s", pp)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	tests := []struct {
		baseURL string
		want    bool
	}{
		{"https://app.test", true},
		{"http://localhost:8080", false},
		{"", false},
	}
	for _, tt := range tests {
		rec := serveWithSecurity(SecurityConfig{BaseURL: tt.baseURL}, func(http.ResponseWriter, *http.Request) {})
		if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tt.want {
			t.Errorf("base %q: HSTS present = %v, want %v", tt.baseURL, got, tt.want)
		}
	}
}

func TestSecurityHeaders_FrameAncestors(t *testing.T) {
	rec := serveWithSecurity(SecurityConfig{BaseURL: "https://app.test"}, func(http.ResponseWriter, *http.Request) {})
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "frame-ancestors 'self'") {
		t.Errorf("CSP should contain frame-ancestors 'self', got: %s", csp)
	}
	if rec.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Errorf("expected X-Frame-Options SAMEORIGIN")
	}
}
