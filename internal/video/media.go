package video

// mediaKind distinguishes the two tables that hold playable files.
type mediaKind string

const (
	kindVideo   mediaKind = "video"
	kindEpisode mediaKind = "episode"
)

func (k mediaKind) table() string {
	if k == kindEpisode {
		return "episodes"
	}
	return "videos"
}

func (k mediaKind) valid() bool {
	return k == kindVideo || k == kindEpisode
}

const (
	statusUploading  = "uploading"
	statusProcessing = "processing"
	statusReady      = "ready"
	statusFailed     = "failed"
	statusDeleted    = "deleted"

	videoKindMovie  = "movie"
	videoKindSeries = "series"
)
