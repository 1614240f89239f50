// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidstream_http_requests_total",
	Help: "HTTP requests by method, route pattern and status.",
}, []string{"method", "route", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vidstream_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route"})

var StreamChunks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidstream_stream_chunks_total",
	Help: "Byte-range stream chunks served by media kind.",
}, []string{"kind"})

var StreamBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vidstream_stream_bytes_total",
	Help: "Bytes proxied to stream clients.",
})

var StreamTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidstream_stream_tokens_issued_total",
	Help: "Stream tokens issued by media kind.",
}, []string{"kind"})

var TranscodeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidstream_transcode_jobs_total",
	Help: "Transcode jobs by media kind and result.",
}, []string{"kind", "result"})

var TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vidstream_transcode_duration_seconds",
	Help:    "Wall time of a transcode job.",
	Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
})

var BillingWebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidstream_billing_webhook_events_total",
	Help: "Billing webhook events by type and outcome.",
}, []string{"type", "outcome"})

var EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidstream_emails_total",
	Help: "Transactional emails by template and result.",
}, []string{"template", "result"})

var NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidstream_notifications_created_total",
	Help: "In-app notifications created by source.",
}, []string{"source"})

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by the chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := routePattern(r)
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
