// Package telemetry reports errors and panics to Sentry when a DSN is
// configured. Every function is a no-op otherwise.
package telemetry

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/i18n"
)

var enabled bool

// Init configures the Sentry client. An empty dsn disables reporting.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		slog.Info("telemetry: SENTRY_DSN not set, error reporting disabled")
		return nil
	}
	if environment == "" {
		environment = "development"
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrub(event)
		},
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	enabled = true
	httputil.SetErrorReporter(func(r *http.Request, msg string, err error) {
		CaptureRequestError(r, msg, err)
	})
	return nil
}

func Enabled() bool {
	return enabled
}

func Flush() {
	if enabled {
		sentry.Flush(2 * time.Second)
	}
}

// CaptureError reports err with tags attached to the event.
func CaptureError(err error, tags map[string]string) {
	if !enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func CaptureRequestError(r *http.Request, msg string, err error) {
	if !enabled || err == nil {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	hub.Scope().SetTag("operation", msg)
	hub.CaptureException(err)
}

// Recoverer turns a panic into a localized 500, logging the stack and
// reporting it to Sentry.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			slog.Error("http: panic serving request", "method", r.Method, "path", r.URL.Path, "error", err, "stack", string(debug.Stack()))

			if enabled {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetTag("panic", "true")
				hub.CaptureException(err)
				hub.Flush(2 * time.Second)
			}

			if r.Header.Get("Connection") != "Upgrade" {
				httputil.WriteLocalizedError(w, r, http.StatusInternalServerError, i18n.KeyInternalError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

var sensitiveHeaders = []string{"Authorization", "Cookie", "Stripe-Signature"}

func scrub(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}
	if event.Request != nil {
		for _, h := range sensitiveHeaders {
			delete(event.Request.Headers, h)
		}
		event.Request.Cookies = ""
		event.Request.URL = redactStreamToken(event.Request.URL)
	}
	event.User.Email = ""
	event.User.IPAddress = ""
	return event
}

func redactStreamToken(u string) string {
	i := strings.Index(u, "/api/stream/")
	if i < 0 {
		return u
	}
	rest := u[i+len("/api/stream/"):]
	if strings.HasPrefix(rest, "videos/") || strings.HasPrefix(rest, "episodes/") {
		return u
	}
	return u[:i] + "/api/stream/[redacted]"
}
