package video

import (
	"context"
	"log/slog"
	"time"

	"github.com/vidstream/vidstream/internal/database"
)

const purgeBatch = 50

type purgeTarget struct {
	id           string
	fileKey      string
	thumbnailKey *string
}

// PurgeDeletedMedia removes stored objects of soft-deleted videos and
// episodes, including their subtitles, and stamps file_purged_at.
func PurgeDeletedMedia(ctx context.Context, db database.DBTX, storage ObjectStorage) {
	for _, kind := range []mediaKind{kindEpisode, kindVideo} {
		purgeKind(ctx, db, storage, kind)
	}
}

func purgeKind(ctx context.Context, db database.DBTX, storage ObjectStorage, kind mediaKind) {
	rows, err := db.Query(ctx,
		`SELECT id, file_key, thumbnail_key FROM `+kind.table()+`
		 WHERE status = 'deleted' AND file_purged_at IS NULL
		 LIMIT $1`,
		purgeBatch,
	)
	if err != nil {
		slog.Error("cleanup: failed to query deleted media", "kind", kind, "error", err)
		return
	}
	var targets []purgeTarget
	for rows.Next() {
		var t purgeTarget
		if err := rows.Scan(&t.id, &t.fileKey, &t.thumbnailKey); err != nil {
			slog.Error("cleanup: failed to scan deleted media", "kind", kind, "error", err)
			continue
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		slog.Error("cleanup: row iteration error", "kind", kind, "error", err)
		return
	}

	for _, t := range targets {
		if t.fileKey != "" {
			if err := deleteWithRetry(ctx, storage, t.fileKey, 3); err != nil {
				slog.Error("cleanup: failed to delete file", "key", t.fileKey, "error", err)
				continue
			}
		}
		if t.thumbnailKey != nil && *t.thumbnailKey != "" {
			if err := deleteWithRetry(ctx, storage, *t.thumbnailKey, 3); err != nil {
				slog.Error("cleanup: failed to delete thumbnail", "key", *t.thumbnailKey, "error", err)
			}
		}
		purgeSubtitles(ctx, db, storage, kind, t.id)

		if _, err := db.Exec(ctx,
			"UPDATE "+kind.table()+" SET file_purged_at = now() WHERE id = $1",
			t.id,
		); err != nil {
			slog.Error("cleanup: failed to mark purged", "kind", kind, "id", t.id, "error", err)
		}
	}
}

func purgeSubtitles(ctx context.Context, db database.DBTX, storage ObjectStorage, kind mediaKind, ownerID string) {
	rows, err := db.Query(ctx,
		"DELETE FROM subtitles WHERE "+string(kind)+"_id = $1 RETURNING file_key",
		ownerID,
	)
	if err != nil {
		slog.Error("cleanup: failed to delete subtitles", "kind", kind, "id", ownerID, "error", err)
		return
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err == nil {
			keys = append(keys, key)
		}
	}
	rows.Close()

	for _, key := range keys {
		if err := deleteWithRetry(ctx, storage, key, 3); err != nil {
			slog.Error("cleanup: failed to delete subtitle", "key", key, "error", err)
		}
	}
}

func StartCleanupLoop(ctx context.Context, db database.DBTX, storage ObjectStorage, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("cleanup: shutting down")
				return
			case <-ticker.C:
				PurgeDeletedMedia(ctx, db, storage)
			}
		}
	}()
}
