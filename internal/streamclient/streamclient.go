// Package streamclient downloads a stream through the ranged proxy, one
// bounded chunk at a time.
package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultChunkSize     = 1 << 20
	maxErrorBodyBytes    = 1024
	defaultClientTimeout = 30 * time.Second
)

// StreamInfo is the answer of the stream token endpoint.
type StreamInfo struct {
	Token       string    `json:"token"`
	StreamURL   string    `json:"streamUrl"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ChunkSize   int64     `json:"chunkSize"`
	ExpiresAt   time.Time `json:"expiresAt"`

	accessToken string
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

var ErrIncomplete = errors.New("stream ended before the announced size")

type Loader struct {
	http *http.Client
}

// New creates a loader. A nil client gets a default one with a per-request
// timeout.
func New(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Loader{http: client}
}

func streamPath(kind string) (string, error) {
	switch kind {
	case "video":
		return "videos", nil
	case "episode":
		return "episodes", nil
	default:
		return "", fmt.Errorf("unknown media kind %q", kind)
	}
}

// Open asks the API for a stream token for a video or episode.
func (l *Loader) Open(ctx context.Context, baseURL, accessToken, kind, id string) (StreamInfo, error) {
	path, err := streamPath(kind)
	if err != nil {
		return StreamInfo{}, err
	}
	url := strings.TrimRight(baseURL, "/") + "/api/stream/" + path + "/" + id

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("create token request: %w", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("request stream token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return StreamInfo{}, statusError(resp)
	}

	var info StreamInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return StreamInfo{}, fmt.Errorf("decode stream token: %w", err)
	}
	if info.StreamURL == "" || info.Size < 0 {
		return StreamInfo{}, errors.New("stream token response is incomplete")
	}
	info.accessToken = accessToken
	return info, nil
}

// Load writes the whole stream to w with sequential range requests and
// returns the number of bytes written. It issues at most
// ceil(size/chunkSize) requests.
func (l *Loader) Load(ctx context.Context, info StreamInfo, w io.Writer) (int64, error) {
	chunk := info.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	maxChunks := (info.Size + chunk - 1) / chunk

	var written int64
	for i := int64(0); i < maxChunks && written < info.Size; i++ {
		end := min(written+chunk, info.Size) - 1
		n, err := l.fetchRange(ctx, info, written, end, w)
		written += n
		if err != nil {
			return written, fmt.Errorf("chunk %d (bytes %d-%d): %w", i, written-n, end, err)
		}
	}
	if written != info.Size {
		return written, fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, written, info.Size)
	}
	return written, nil
}

func (l *Loader) fetchRange(ctx context.Context, info StreamInfo, start, end int64, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.StreamURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	if info.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+info.accessToken)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, statusError(resp)
	}
	gotStart, gotEnd, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, err
	}
	if gotStart != start || gotEnd > end {
		return 0, fmt.Errorf("server answered bytes %d-%d for %d-%d", gotStart, gotEnd, start, end)
	}

	want := gotEnd - gotStart + 1
	n, err := io.Copy(w, io.LimitReader(resp.Body, want))
	if err != nil {
		return n, fmt.Errorf("copy chunk: %w", err)
	}
	if n != want {
		return n, fmt.Errorf("%w: chunk short by %d bytes", ErrIncomplete, want-n)
	}
	return n, nil
}

// parseContentRange reads "bytes start-end/total".
func parseContentRange(v string) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	rng, _, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	start, err1 := strconv.ParseInt(first, 10, 64)
	end, err2 := strconv.ParseInt(last, 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	return start, end, nil
}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var parsed struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
