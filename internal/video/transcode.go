package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vidstream/vidstream/internal/metrics"
	"github.com/vidstream/vidstream/internal/notify"
	"github.com/vidstream/vidstream/internal/transcode"
)

// Transcoder is implemented by *transcode.Tools.
type Transcoder interface {
	Probe(ctx context.Context, path string) (transcode.Info, error)
	Transcode(ctx context.Context, inputPath, outputPath string) error
	Thumbnail(ctx context.Context, inputPath, outputPath string, at time.Duration) error
}

const (
	transcodeBatch   = 5
	transcodeTimeout = 2 * time.Hour
)

type transcodeJob struct {
	kind        mediaKind
	id          string
	videoID     string
	fileKey     string
	title       string
	seriesTitle string
	season      int
	episode     int
}

func (h *Handler) SetTranscoder(t Transcoder) {
	h.transcoder = t
}

func (h *Handler) pendingJobs(ctx context.Context) ([]transcodeJob, error) {
	var jobs []transcodeJob

	rows, err := h.db.Query(ctx,
		`SELECT id, file_key, title FROM videos
		 WHERE status = 'processing' AND kind = 'movie'
		 ORDER BY updated_at
		 LIMIT $1`,
		transcodeBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	for rows.Next() {
		j := transcodeJob{kind: kindVideo}
		if err := rows.Scan(&j.id, &j.fileKey, &j.title); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan video: %w", err)
		}
		j.videoID = j.id
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}

	rows, err = h.db.Query(ctx,
		`SELECT e.id, e.video_id, e.file_key, e.title, v.title, e.season_number, e.episode_number
		 FROM episodes e
		 JOIN videos v ON v.id = e.video_id
		 WHERE e.status = 'processing'
		 ORDER BY e.updated_at
		 LIMIT $1`,
		transcodeBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		j := transcodeJob{kind: kindEpisode}
		if err := rows.Scan(&j.id, &j.videoID, &j.fileKey, &j.title, &j.seriesTitle, &j.season, &j.episode); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return jobs, nil
}

// ProcessPendingMedia transcodes every media row waiting in processing and
// returns how many finished successfully.
func (h *Handler) ProcessPendingMedia(ctx context.Context) int {
	if h.transcoder == nil {
		return 0
	}
	jobs, err := h.pendingJobs(ctx)
	if err != nil {
		slog.Error("transcode-worker: failed to load jobs", "error", err)
		return 0
	}

	done := 0
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		if h.runTranscodeJob(ctx, j) {
			done++
		}
	}
	return done
}

func (h *Handler) runTranscodeJob(ctx context.Context, j transcodeJob) bool {
	started := time.Now()
	slog.Info("transcode: starting", "kind", j.kind, "id", j.id, "source", j.fileKey)

	jobCtx, cancel := context.WithTimeout(ctx, transcodeTimeout)
	defer cancel()

	err := h.transcodeMedia(jobCtx, j)
	metrics.TranscodeDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.TranscodeJobs.WithLabelValues(string(j.kind), "failed").Inc()
		slog.Error("transcode: failed", "kind", j.kind, "id", j.id, "error", err)
		if _, dbErr := h.db.Exec(ctx,
			"UPDATE "+j.kind.table()+" SET status = 'failed', updated_at = now() WHERE id = $1 AND status = 'processing'",
			j.id,
		); dbErr != nil {
			slog.Error("transcode: failed to mark failed", "kind", j.kind, "id", j.id, "error", dbErr)
		}
		return false
	}

	metrics.TranscodeJobs.WithLabelValues(string(j.kind), "ready").Inc()
	slog.Info("transcode: completed", "kind", j.kind, "id", j.id, "elapsed", time.Since(started).Round(time.Second))
	return true
}

func (h *Handler) transcodeMedia(ctx context.Context, j transcodeJob) error {
	dir, err := os.MkdirTemp("", "vidstream-transcode-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	srcPath := filepath.Join(dir, "source"+filepath.Ext(j.fileKey))
	outPath := filepath.Join(dir, "stream.mp4")
	thumbPath := filepath.Join(dir, "thumbnail.jpg")

	if err := h.storage.DownloadToFile(ctx, j.fileKey, srcPath); err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	info, err := h.transcoder.Probe(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("probe source: %w", err)
	}
	if err := h.transcoder.Transcode(ctx, srcPath, outPath); err != nil {
		return err
	}
	st, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}

	streamKey := streamFileKey(j.kind, j.id)
	if err := h.storage.UploadFile(ctx, streamKey, outPath, streamContentType); err != nil {
		return fmt.Errorf("upload stream: %w", err)
	}

	var thumbKey *string
	if err := h.transcoder.Thumbnail(ctx, outPath, thumbPath, transcode.ThumbnailOffset(info.Duration)); err != nil {
		slog.Warn("transcode: thumbnail failed", "kind", j.kind, "id", j.id, "error", err)
	} else {
		key := thumbnailFileKey(j.kind, j.id)
		if err := h.storage.UploadFile(ctx, key, thumbPath, "image/jpeg"); err != nil {
			slog.Warn("transcode: thumbnail upload failed", "kind", j.kind, "id", j.id, "error", err)
		} else {
			thumbKey = &key
		}
	}

	tag, err := h.db.Exec(ctx,
		`UPDATE `+j.kind.table()+`
		 SET status = 'ready', file_key = $2, file_size = $3, content_type = $4, duration = $5,
		     thumbnail_key = COALESCE(thumbnail_key, $6),
		     published_at = COALESCE(published_at, now()), updated_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		j.id, streamKey, st.Size(), streamContentType, info.Seconds(), thumbKey,
	)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Info("transcode: row left processing before completion", "kind", j.kind, "id", j.id)
		return nil
	}

	if j.fileKey != streamKey {
		if err := deleteWithRetry(ctx, h.storage, j.fileKey, 3); err != nil {
			slog.Warn("transcode: failed to delete source", "key", j.fileKey, "error", err)
		}
	}

	h.publish(j.event(h.watchURL(j.videoID)))
	return nil
}

func (j transcodeJob) event(watchURL string) notify.Event {
	if j.kind == kindEpisode {
		return notify.Event{
			Kind:        notify.KindEpisode,
			VideoID:     j.videoID,
			EpisodeID:   j.id,
			Title:       j.title,
			SeriesTitle: j.seriesTitle,
			Season:      j.season,
			Episode:     j.episode,
			WatchURL:    watchURL,
		}
	}
	return notify.Event{Kind: notify.KindVideo, VideoID: j.videoID, Title: j.title, WatchURL: watchURL}
}

func (h *Handler) StartTranscodeLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("transcode-worker: shutting down")
				return
			case <-ticker.C:
				h.ProcessPendingMedia(ctx)
			}
		}
	}()
}
