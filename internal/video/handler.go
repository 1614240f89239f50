package video

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/notify"
	"github.com/vidstream/vidstream/internal/storage"
)

type ObjectStorage interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string, contentLength int64, expiry time.Duration) (string, error)
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (int64, string, error)
	DownloadToFile(ctx context.Context, key string, destPath string) error
	UploadFile(ctx context.Context, key string, filePath string, contentType string) error
	GetObjectRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, storage.ObjectRange, error)
	ReadObject(ctx context.Context, key string, maxBytes int64) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// CountryResolver maps a client IP to an ISO country code, "" when unknown.
type CountryResolver interface {
	Country(ip string) string
}

// Cache is a small string cache with expiry, backed by Redis in production.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

const (
	defaultChunkBytes = 1 << 20
	defaultTokenTTL   = 2 * time.Hour
	uploadURLExpiry   = time.Hour
	imageURLExpiry    = time.Hour
	maxJSONBodyBytes  = 64 << 10
)

type Handler struct {
	db             database.DBTX
	storage        ObjectStorage
	baseURL        string
	maxUploadBytes int64
	streamSecret   []byte
	chunkBytes     int64
	tokenTTL       time.Duration
	publisher      notify.Publisher
	geo            CountryResolver
	cache          Cache
	transcoder     Transcoder
	now            func() time.Time
}

func NewHandler(db database.DBTX, s ObjectStorage, baseURL string, maxUploadBytes int64, streamSecret string) *Handler {
	return &Handler{
		db:             db,
		storage:        s,
		baseURL:        strings.TrimRight(baseURL, "/"),
		maxUploadBytes: maxUploadBytes,
		streamSecret:   []byte(streamSecret),
		chunkBytes:     defaultChunkBytes,
		tokenTTL:       defaultTokenTTL,
		now:            time.Now,
	}
}

// SetStreamLimits overrides the chunk cap and token lifetime. Zero values
// keep the defaults.
func (h *Handler) SetStreamLimits(chunkBytes int64, tokenTTL time.Duration) {
	if chunkBytes > 0 {
		h.chunkBytes = chunkBytes
	}
	if tokenTTL > 0 {
		h.tokenTTL = tokenTTL
	}
}

func (h *Handler) SetPublisher(p notify.Publisher) {
	h.publisher = p
}

func (h *Handler) SetCountryResolver(r CountryResolver) {
	h.geo = r
}

func (h *Handler) SetStatsCache(c Cache) {
	h.cache = c
}

var uploadContentTypes = map[string]string{
	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/webm":       ".webm",
	"video/x-matroska": ".mkv",
}

func extensionForContentType(ct string) string {
	if ext, ok := uploadContentTypes[ct]; ok {
		return ext
	}
	return ".bin"
}

func sourceFileKey(kind mediaKind, id, contentType string) string {
	return fmt.Sprintf("%s/%s/source%s", kind.table(), id, extensionForContentType(contentType))
}

func streamFileKey(kind mediaKind, id string) string {
	return fmt.Sprintf("%s/%s/stream.mp4", kind.table(), id)
}

func thumbnailFileKey(kind mediaKind, id string) string {
	return fmt.Sprintf("%s/%s/thumbnail.jpg", kind.table(), id)
}

func posterFileKey(videoID string) string {
	return fmt.Sprintf("videos/%s/poster.jpg", videoID)
}

func subtitleFileKey(subtitleID string) string {
	return fmt.Sprintf("subtitles/%s.vtt", subtitleID)
}

func (h *Handler) watchURL(videoID string) string {
	return h.baseURL + "/watch/" + videoID
}

// imageURL presigns a GET for an optional object key. Failures degrade to
// an empty URL.
func (h *Handler) imageURL(ctx context.Context, key *string) string {
	if key == nil || *key == "" {
		return ""
	}
	u, err := h.storage.GenerateDownloadURL(ctx, *key, imageURLExpiry)
	if err != nil {
		return ""
	}
	return u
}
