package video

import (
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/validate"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type categoryItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	VideoCount  int64  `json:"videoCount"`
}

// slugify folds accents and keeps ASCII letters and digits, joining words
// with single hyphens: "Ciência & Ficção" becomes "ciencia-ficcao".
func slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}
	return b.String()
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(r.Context(),
		`SELECT c.id, c.name, c.slug, c.description,
		        COUNT(v.id) FILTER (WHERE v.status = 'ready')
		 FROM categories c
		 LEFT JOIN videos v ON v.category_id = c.id
		 GROUP BY c.id
		 ORDER BY c.name`)
	if err != nil {
		httputil.InternalError(w, r, "categories: list", err)
		return
	}
	defer rows.Close()

	items := []categoryItem{}
	for rows.Next() {
		var c categoryItem
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.VideoCount); err != nil {
			httputil.InternalError(w, r, "categories: scan", err)
			return
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "categories: iterate", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var c categoryItem
	err := h.db.QueryRow(r.Context(),
		`SELECT c.id, c.name, c.slug, c.description,
		        (SELECT COUNT(*) FROM videos v WHERE v.category_id = c.id AND v.status = 'ready')
		 FROM categories c WHERE c.slug = $1`,
		slug,
	).Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.VideoCount)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "category not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, "categories: get", err, "slug", slug)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, c)
}

type categoryRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func validateCategory(req categoryRequest) string {
	if req.Name != nil {
		*req.Name = strings.TrimSpace(*req.Name)
		if *req.Name == "" {
			return "name is required"
		}
		if msg := validate.CategoryName(*req.Name); msg != "" {
			return msg
		}
		if slugify(*req.Name) == "" {
			return "name must contain letters or digits"
		}
	}
	if req.Description != nil {
		if msg := validate.CategoryDescription(*req.Description); msg != "" {
			return msg
		}
	}
	return ""
}

func (h *Handler) AdminCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	if req.Name == nil {
		httputil.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if msg := validateCategory(req); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}

	c := categoryItem{Name: *req.Name, Slug: slugify(*req.Name), Description: description}
	err := h.db.QueryRow(r.Context(),
		"INSERT INTO categories (name, slug, description) VALUES ($1, $2, $3) RETURNING id",
		c.Name, c.Slug, c.Description,
	).Scan(&c.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			httputil.WriteError(w, http.StatusConflict, "a category with this name already exists")
			return
		}
		httputil.InternalError(w, r, "categories: create", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) AdminUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	var req categoryRequest
	if !httputil.DecodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	if req.Name == nil && req.Description == nil {
		httputil.WriteError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if msg := validateCategory(req); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	var slug *string
	if req.Name != nil {
		s := slugify(*req.Name)
		slug = &s
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE categories
		 SET name = COALESCE($1, name), slug = COALESCE($2, slug), description = COALESCE($3, description)
		 WHERE id = $4`,
		req.Name, slug, req.Description, id,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			httputil.WriteError(w, http.StatusConflict, "a category with this name already exists")
			return
		}
		httputil.InternalError(w, r, "categories: update", err, "category_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "category not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdminDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	tag, err := h.db.Exec(r.Context(), "DELETE FROM categories WHERE id = $1", id)
	if err != nil {
		httputil.InternalError(w, r, "categories: delete", err, "category_id", id)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "category not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
