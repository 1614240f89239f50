package video

import (
	"net/http"
	"strings"

	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/validate"
)

const searchLimit = 20

type videoHit struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

type episodeHit struct {
	ID            string `json:"id"`
	VideoID       string `json:"videoId"`
	SeriesTitle   string `json:"seriesTitle"`
	Title         string `json:"title"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
}

type searchResponse struct {
	Query    string       `json:"query"`
	Videos   []videoHit   `json:"videos"`
	Episodes []episodeHit `json:"episodes"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if msg := validate.SearchQuery(query); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	pattern := "%" + escapeLike(query) + "%"

	resp := searchResponse{Query: query, Videos: []videoHit{}, Episodes: []episodeHit{}}

	rows, err := h.db.Query(r.Context(),
		`SELECT id, kind, title, thumbnail_key FROM videos
		 WHERE status = 'ready' AND (title ILIKE $1 OR description ILIKE $1)
		 ORDER BY view_count DESC, title
		 LIMIT $2`,
		pattern, searchLimit,
	)
	if err != nil {
		httputil.InternalError(w, r, "search: videos", err)
		return
	}
	for rows.Next() {
		var hit videoHit
		var thumbnailKey *string
		if err := rows.Scan(&hit.ID, &hit.Kind, &hit.Title, &thumbnailKey); err != nil {
			rows.Close()
			httputil.InternalError(w, r, "search: scan video", err)
			return
		}
		hit.ThumbnailURL = h.imageURL(r.Context(), thumbnailKey)
		resp.Videos = append(resp.Videos, hit)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "search: iterate videos", err)
		return
	}

	rows, err = h.db.Query(r.Context(),
		`SELECT e.id, e.video_id, v.title, e.title, e.season_number, e.episode_number
		 FROM episodes e
		 JOIN videos v ON v.id = e.video_id
		 WHERE e.status = 'ready' AND v.status = 'ready' AND e.title ILIKE $1
		 ORDER BY v.title, e.season_number, e.episode_number
		 LIMIT $2`,
		pattern, searchLimit,
	)
	if err != nil {
		httputil.InternalError(w, r, "search: episodes", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var hit episodeHit
		if err := rows.Scan(&hit.ID, &hit.VideoID, &hit.SeriesTitle, &hit.Title, &hit.SeasonNumber, &hit.EpisodeNumber); err != nil {
			httputil.InternalError(w, r, "search: scan episode", err)
			return
		}
		resp.Episodes = append(resp.Episodes, hit)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, r, "search: iterate episodes", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
