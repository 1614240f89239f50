package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vidstream/vidstream/internal/i18n"
)

type ErrorBody struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// InternalError logs err under msg and answers 500 with a generic message
// in the caller's language.
func InternalError(w http.ResponseWriter, r *http.Request, msg string, err error, args ...any) {
	attrs := append([]any{"method", r.Method, "path", r.URL.Path}, args...)
	attrs = append(attrs, "error", err)
	slog.Error(msg, attrs...)
	if errorReporter != nil {
		errorReporter(r, msg, err)
	}
	WriteError(w, http.StatusInternalServerError, i18n.FromRequest(r, i18n.KeyInternalError))
}

// WriteLocalizedError answers status with the translated message for key.
func WriteLocalizedError(w http.ResponseWriter, r *http.Request, status int, key string) {
	WriteError(w, status, i18n.FromRequest(r, key))
}

// DecodeJSON reads a JSON body of at most maxBytes into v. It writes a 400
// and returns false when the body is malformed.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit and offset query parameters, clamping limit to
// [1, maxLimit] and offset to >= 0.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	p := Page{Limit: defaultLimit}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		p.Limit = v
	}
	if p.Limit < 1 {
		p.Limit = 1
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		p.Offset = v
	}
	return p
}

var errorReporter func(r *http.Request, msg string, err error)

// SetErrorReporter registers a hook that receives every error passed to
// InternalError.
func SetErrorReporter(fn func(r *http.Request, msg string, err error)) {
	errorReporter = fn
}
