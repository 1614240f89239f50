package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/vidstream/vidstream/internal/httputil"
)

type SecurityConfig struct {
	BaseURL         string
	StorageEndpoint string
}

const permissionsPolicy = "camera=(), microphone=(), geolocation=(), fullscreen=(self), picture-in-picture=(self)"

// contentSecurityPolicy keeps media on 'self': playback only goes through
// the /api/stream proxy, never straight to the bucket.
func contentSecurityPolicy(nonce, storage string) string {
	extra := ""
	if storage != "" {
		extra = " " + storage
	}
	directives := []string{
		"default-src 'self'",
		"img-src 'self' data:" + extra,
		"media-src 'self' blob:",
		"script-src 'self' 'nonce-" + nonce + "'",
		"style-src 'self' 'nonce-" + nonce + "'",
		"connect-src 'self'" + extra,
		"frame-ancestors 'self'",
	}
	return strings.Join(directives, "; ") + ";"
}

func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	hsts := strings.HasPrefix(cfg.BaseURL, "https://")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce, err := httputil.NewNonce()
			if err != nil {
				slog.Error("server: csp nonce", "error", err)
			}

			h := w.Header()
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("Permissions-Policy", permissionsPolicy)
			h.Set("Content-Security-Policy", contentSecurityPolicy(nonce, cfg.StorageEndpoint))
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r.WithContext(httputil.WithNonce(r.Context(), nonce)))
		})
	}
}
